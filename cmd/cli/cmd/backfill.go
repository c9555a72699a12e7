package cmd

import (
	"sellerpilot/pkg/api"

	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Queue and inspect backfill jobs",
	Long:  `Backfill jobs generate artifacts for a tenant's existing items, drained under the daily generation quota.`,
}

var backfillEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a backfill job for a tenant",
	Run: func(cmd *cobra.Command, args []string) {
		tenantID, _ := cmd.Flags().GetString("tenant")
		target, _ := cmd.Flags().GetInt("target")

		if tenantID == "" || target <= 0 {
			cmd.Println("--tenant and a positive --target are required")
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		job, err := client.EnqueueBackfill(api.EnqueueBackfillRequest{TenantID: tenantID, TargetCount: target})
		if err != nil {
			cmd.Printf("Error: %s\n", err)
			return
		}

		cmd.Printf("✅ Backfill queued!\nID: %s\n", job.ID)
	},
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status [backfill_id]",
	Short: "Show progress of a backfill job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		job, err := client.GetBackfill(args[0])
		if err != nil {
			cmd.Printf("Error: %s\n", err)
			return
		}

		printBackfill(cmd, *job)
	},
}

func printBackfill(cmd *cobra.Command, job api.BackfillResponse) {
	cmd.Printf("%s %sBackfill Details%s\n", statusIcon(job.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sTenant:%s      %s\n", colorDim, colorReset, job.TenantID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))

	percent := 0
	if job.TargetCount > 0 {
		percent = job.ProcessedCount * 100 / job.TargetCount
	}
	cmd.Printf("%sProgress:%s    %d/%d %s(%d%%)%s\n", colorDim, colorReset, job.ProcessedCount, job.TargetCount, colorCyan, percent, colorReset)

	if job.LastError != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *job.LastError, colorReset)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&job.CreatedAt))
	cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&job.UpdatedAt))
}

func init() {
	backfillEnqueueCmd.Flags().String("tenant", "", "Tenant ID (UUID)")
	backfillEnqueueCmd.Flags().Int("target", 0, "Number of artifacts to generate")

	backfillCmd.AddCommand(backfillEnqueueCmd)
	backfillCmd.AddCommand(backfillStatusCmd)
	rootCmd.AddCommand(backfillCmd)
}
