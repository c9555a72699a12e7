// Package schedule computes when recurring jobs wake up: time-of-day tiered
// intervals for self-rescheduling jobs and cron cadences for fixed ones.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Tier maps a half-open time-of-day window [Start, End) to a wake-up interval.
// Start and End are minutes after midnight; End <= Start wraps past midnight.
type Tier struct {
	Start    int
	End      int
	Interval time.Duration
}

func (t Tier) contains(minute int) bool {
	if t.Start < t.End {
		return minute >= t.Start && minute < t.End
	}
	return minute >= t.Start || minute < t.End
}

func (t Tier) String() string {
	return fmt.Sprintf("%s-%s=%s", clock(t.Start), clock(t.End), t.Interval)
}

// Policy picks the next delay for a self-rescheduling job from the operating-timezone clock.
type Policy struct {
	tiers []Tier
	loc   *time.Location
	// byMinute[m] indexes the tier covering minute m.
	byMinute [minutesPerDay]int
}

// DefaultTiers are the dialogue-sync tiers: busy daytime, quieter shoulders, sparse nights.
var DefaultTiers = []Tier{
	{Start: 6 * 60, End: 9 * 60, Interval: 15 * time.Minute},
	{Start: 9 * 60, End: 18 * 60, Interval: 5 * time.Minute},
	{Start: 18 * 60, End: 21 * 60, Interval: 15 * time.Minute},
	{Start: 21 * 60, End: 6 * 60, Interval: 60 * time.Minute},
}

// NewPolicy validates that the tiers partition the day and builds a policy for loc.
func NewPolicy(loc *time.Location, tiers []Tier) (*Policy, error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(tiers) == 0 {
		return nil, errors.New("schedule: no tiers")
	}

	p := &Policy{tiers: append([]Tier(nil), tiers...), loc: loc}
	sort.Slice(p.tiers, func(i, j int) bool { return p.tiers[i].Start < p.tiers[j].Start })

	for m := range p.byMinute {
		p.byMinute[m] = -1
	}
	for i, t := range p.tiers {
		if t.Start < 0 || t.Start >= minutesPerDay || t.End < 0 || t.End > minutesPerDay {
			return nil, fmt.Errorf("schedule: tier %s out of range", t)
		}
		if t.Interval <= 0 {
			return nil, fmt.Errorf("schedule: tier %s has non-positive interval", t)
		}
		for m := 0; m < minutesPerDay; m++ {
			if !t.contains(m) {
				continue
			}
			if p.byMinute[m] != -1 {
				return nil, fmt.Errorf("schedule: tiers %s and %s overlap at %s", p.tiers[p.byMinute[m]], t, clock(m))
			}
			p.byMinute[m] = i
		}
	}
	for m, idx := range p.byMinute {
		if idx == -1 {
			return nil, fmt.Errorf("schedule: no tier covers %s", clock(m))
		}
	}

	return p, nil
}

// FixedZone returns the operating timezone for a whole-hour UTC offset.
func FixedZone(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
}

// Location is the operating timezone of the policy.
func (p *Policy) Location() *time.Location {
	return p.loc
}

// Tiers returns the tiers sorted by start.
func (p *Policy) Tiers() []Tier {
	return append([]Tier(nil), p.tiers...)
}

// TierAt returns the tier in effect at now.
func (p *Policy) TierAt(now time.Time) Tier {
	local := now.In(p.loc)
	return p.tiers[p.byMinute[local.Hour()*60+local.Minute()]]
}

// NextDelay returns how long a self-rescheduling job should sleep after a run finishing at now.
func (p *Policy) NextDelay(now time.Time) time.Duration {
	return p.TierAt(now).Interval
}

// ParseTiers parses "HH:MM-HH:MM=duration" entries, e.g. "09:00-18:00=5m".
func ParseTiers(specs []string) ([]Tier, error) {
	tiers := make([]Tier, 0, len(specs))
	for _, raw := range specs {
		spec := strings.TrimSpace(raw)
		if spec == "" {
			continue
		}
		window, interval, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("schedule: tier %q: missing '='", spec)
		}
		from, to, ok := strings.Cut(window, "-")
		if !ok {
			return nil, fmt.Errorf("schedule: tier %q: missing '-'", spec)
		}
		start, err := parseClock(from)
		if err != nil {
			return nil, fmt.Errorf("schedule: tier %q: %w", spec, err)
		}
		end, err := parseClock(to)
		if err != nil {
			return nil, fmt.Errorf("schedule: tier %q: %w", spec, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(interval))
		if err != nil {
			return nil, fmt.Errorf("schedule: tier %q: %w", spec, err)
		}
		tiers = append(tiers, Tier{Start: start, End: end, Interval: d})
	}
	return tiers, nil
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	// 24:00 is accepted as end of day.
	if hh < 0 || hh > 24 || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return hh*60 + mm, nil
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
