package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"sellerpilot/pkg/api"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs with their last and next run",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		jobs, err := client.ListJobs()
		if err != nil {
			cmd.Printf("Error fetching jobs: %s\n", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Println("No jobs registered.")
			return
		}

		printJobs(cmd, jobs)
	},
}

func printJobs(cmd *cobra.Command, jobs []api.JobStatusResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tTRIGGER\tSTATE\tLAST RUN\tDURATION\tNEXT RUN\tRUNS\tSKIPS\tLAST ERROR")
	for _, j := range jobs {
		trigger := j.Trigger
		if j.Schedule != "" {
			trigger = fmt.Sprintf("%s (%s)", j.Trigger, j.Schedule)
		}

		state := "idle"
		if j.Running {
			state = "running"
		}

		lastRun, duration, nextRun := "-", "-", "-"
		if j.LastStart != nil {
			lastRun = j.LastStart.Format(time.RFC3339)
			if j.LastFinish != nil && !j.LastFinish.Before(*j.LastStart) {
				duration = formatDuration(j.LastFinish.Sub(*j.LastStart))
			}
		}
		if j.NextRun != nil {
			nextRun = j.NextRun.Format(time.RFC3339)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			j.Name,
			trigger,
			state,
			lastRun,
			duration,
			nextRun,
			j.Runs,
			j.Skips,
			truncate(j.LastError, 50),
		)
	}
	w.Flush()
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [job_name]",
	Short: "Run a job now",
	Long:  `Start a job immediately in the background. A job that is already running is not started twice.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		result, err := client.RunJob(args[0])
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
				cmd.Printf("%s⏳ %s is already running%s\n", colorYellow, args[0], colorReset)
				return
			}
			cmd.Printf("Error: %s\n", err)
			return
		}

		cmd.Printf("🚀 Job %s %s!\n", result.Job, result.Status)
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}
