package commands

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/server"
	"github.com/teranos/vigil/sym"
	"github.com/teranos/vigil/track"
)

// JobCmd represents the job command - automation job management
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Vigil + " Manage automation jobs",
	Long: sym.Vigil + ` Automation job management.

Jobs run on the remote automation runner; the vigil daemon tracks them.
These commands talk to the daemon, so it must be running ('vigil serve').

Job management commands:
  vigil job start --target <url>   # Start a job
  vigil job cancel [id]            # Cancel a job (active job when omitted)
  vigil job status <id>            # Show job details
  vigil job ls                     # List tracked jobs
  vigil job ls --history           # List archived jobs
  vigil job watch [id]             # Live progress feed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobStartCmd starts a job on the runner
var JobStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an automation job",
	Long: `Ask the runner to start an automation job and begin tracking it.

One job runs at a time: starting while another job is active is refused.
The expected unit count feeds progress estimation when the runner's
messages do not carry their own counter.

Examples:
  vigil job start --target https://portal.example.com/depot/7
  vigil job start --target https://portal.example.com/depot/7 --units 3 --label "Depot 7 refresh"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		units, _ := cmd.Flags().GetInt("units")
		label, _ := cmd.Flags().GetString("label")
		return runJobStart(target, units, label)
	},
}

// JobCancelCmd cancels a tracked job
var JobCancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a job",
	Long: `Cancel a tracked job. With no id, cancels the currently active job.

Cancellation is cooperative: the runner is asked to stop, and the record
goes terminal locally even when the runner no longer knows the job.

Example:
  vigil job cancel run-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := ""
		if len(args) > 0 {
			jobID = args[0]
		}
		return runJobCancel(jobID)
	},
}

// JobStatusCmd shows one job's details
var JobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a job",
	Long: `Display detailed status for a tracked job:
- Current status (idle, running, completed, error) and latest message
- Launch context (target, expected units, label)
- Structured progress when the runner's messages allow it
- Timestamps and runtime

Example:
  vigil job status run-42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobStatus(args[0])
	},
}

// JobLsCmd lists tracked jobs
var JobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs tracked by the daemon.

By default shows the live records held in memory. With --history, shows
archived terminal jobs from the database instead; --limit applies to the
history listing.

Examples:
  vigil job ls                    # Live records
  vigil job ls --history          # Archived jobs
  vigil job ls --history --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showHistory, _ := cmd.Flags().GetBool("history")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobLs(showHistory, limit)
	},
}

func init() {
	JobStartCmd.Flags().String("target", "", "Portal URL the runner should automate (required)")
	JobStartCmd.Flags().Int("units", 0, "Expected number of units, for progress estimation")
	JobStartCmd.Flags().String("label", "", "Operator-facing label for the job")

	JobLsCmd.Flags().Bool("history", false, "List archived jobs instead of live records")
	JobLsCmd.Flags().Int("limit", 20, "Maximum number of history entries to display")

	JobCmd.AddCommand(JobStartCmd)
	JobCmd.AddCommand(JobCancelCmd)
	JobCmd.AddCommand(JobStatusCmd)
	JobCmd.AddCommand(JobLsCmd)
}

// runJobStart asks the daemon to start a job
func runJobStart(target string, units int, label string) error {
	if target == "" {
		return errors.New("start target is required (--target)")
	}

	var rec track.JobRecord
	err := daemonPost("/api/jobs/start", server.StartJobRequest{
		Target:    target,
		UnitCount: units,
		Label:     label,
	}, &rec)
	if err != nil {
		return err
	}

	fmt.Printf("%s Job started: %s\n", sym.Run, rec.JobID)
	fmt.Printf("  Status: %s\n", rec.Status)
	if rec.Message != "" {
		fmt.Printf("  Message: %s\n", rec.Message)
	}
	fmt.Printf("\nFollow it with: vigil job watch %s\n", rec.JobID)
	return nil
}

// runJobCancel cancels a job, resolving the active job when no id is given
func runJobCancel(jobID string) error {
	if jobID == "" {
		var status server.DaemonStatusMessage
		if err := daemonGet("/api/status", &status); err != nil {
			return err
		}
		if status.ActiveJobID == "" {
			return errors.WithHint(errors.ErrNoActiveJob, "pass a job id to cancel a specific job")
		}
		jobID = status.ActiveJobID
	}

	var rec track.JobRecord
	if err := daemonPost("/api/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &rec); err != nil {
		return err
	}

	fmt.Printf("%s Job %s cancelled\n", sym.Run, rec.JobID)
	fmt.Printf("  Final status: %s (%s)\n", rec.Status, rec.Message)
	return nil
}

// runJobStatus displays detailed status for one job
func runJobStatus(jobID string) error {
	var rec track.JobRecord
	if err := daemonGet("/api/jobs/"+url.PathEscape(jobID), &rec); err != nil {
		return err
	}

	fmt.Printf("%s Job ID: %s\n", sym.Vigil, rec.JobID)
	fmt.Printf("  Status: %s\n", rec.Status)
	if rec.Message != "" {
		fmt.Printf("  Message: %s\n", rec.Message)
	}
	if rec.Forced {
		fmt.Printf("  Note: completion inferred from inactivity, not confirmed by the runner\n")
	}
	fmt.Printf("\n")

	fmt.Printf("Target: %s\n", rec.Context.Target)
	if rec.Context.Label != "" {
		fmt.Printf("Label: %s\n", rec.Context.Label)
	}
	if rec.Context.UnitCount > 0 {
		fmt.Printf("Expected units: %d\n", rec.Context.UnitCount)
	}
	if rec.Progress != nil {
		fmt.Printf("Progress: %s\n", rec.Progress.String())
	}
	fmt.Printf("\n")

	if !rec.StartedAt.IsZero() {
		fmt.Printf("Started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if rec.EndedAt != nil {
		fmt.Printf("Ended: %s\n", rec.EndedAt.Format("2006-01-02 15:04:05"))
	}
	if d := rec.Elapsed(); d > 0 {
		fmt.Printf("Runtime: %s\n", d.Round(time.Second))
	}

	return nil
}

// runJobLs lists live or archived jobs
func runJobLs(showHistory bool, limit int) error {
	var resp server.JobListResponse
	if showHistory {
		if err := daemonGet(fmt.Sprintf("/api/history?limit=%d", limit), &resp); err != nil {
			return err
		}
	} else {
		if err := daemonGet("/api/jobs", &resp); err != nil {
			return err
		}
	}

	if len(resp.Jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Vigil)
		return nil
	}

	// Print table header
	fmt.Printf("%-12s %-10s %-30s %-16s %s\n", "JOB ID", "STATUS", "TARGET", "PROGRESS", "STARTED")
	fmt.Printf("%-12s %-10s %-30s %-16s %s\n", "------", "------", "------", "--------", "-------")

	// Print jobs
	for _, job := range resp.Jobs {
		fmt.Printf("%-12s %-10s %-30s %-16s %s\n",
			truncate(job.JobID, 12),
			job.Status,
			truncate(job.Context.Target, 30),
			progressCell(job),
			job.StartedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", resp.Count)
	return nil
}

// progressCell renders the progress column of the job table
func progressCell(job *track.JobRecord) string {
	if job.Progress == nil {
		return "-"
	}
	if job.Progress.Total > 0 {
		return fmt.Sprintf("%d/%d (%d%%)", job.Progress.Current, job.Progress.Total, job.Progress.Percent())
	}
	return truncate(job.Progress.Stage, 16)
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
