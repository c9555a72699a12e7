package cmd

import (
	"fmt"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// statusIcon covers backfill, sequence and job states.
func statusIcon(status string) string {
	switch status {
	case "completed", "ok":
		return colorGreen + "✓" + colorReset
	case "failed", "error":
		return colorRed + "✗" + colorReset
	case "processing", "running", "active":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	case "stopped":
		return colorDim + "■" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed", "ok":
		return icon + " " + colorGreen + status + colorReset
	case "failed", "error":
		return icon + " " + colorRed + status + colorReset
	case "processing", "running", "active":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	case "stopped":
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

// relativeTime renders t as "5m ago" or "in 5m".
func relativeTime(t time.Time) string {
	duration := time.Since(t)
	suffix := " ago"
	prefix := ""
	if duration < 0 {
		duration = -duration
		prefix, suffix = "in ", ""
	}

	var s string
	if duration < time.Minute {
		s = fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		s = fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		s = fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			s = "1 day"
		} else {
			s = fmt.Sprintf("%d days", days)
		}
	}
	return prefix + s + suffix
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
