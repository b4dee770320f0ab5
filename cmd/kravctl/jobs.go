package main

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/monitor"
)

var (
	submitOpts  scanFlags
	submitWatch bool
	// watchInterval is the polling interval for the job dashboard
	watchInterval time.Duration
)

func init() {
	submitOpts.register(submitCmd)
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "follow the job in the dashboard")
	submitCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "dashboard polling interval")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "polling interval")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(revokeCmd)
}

// submitCmd queues a scan on kravd
var submitCmd = &cobra.Command{
	Use:   "submit <dir>",
	Short: "Queue a scan job on kravd",
	Long: `Queue a scan of a directory on the kravd server and print the job id.

The directory is resolved on the server, relative to its storage.work_dir.

Examples:
  # Submit and follow the job
  kravctl submit batch-17 --standard NS3420 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().Submit(cmd.Context(), submitOpts.params(args[0]))
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		if submitWatch {
			return watchJob(job.ID)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

// statusCmd prints a job
var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state and progress of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), job)
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

// watchCmd opens the job dashboard
var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job in a live terminal dashboard",
	Long: `Follow a job in a live terminal dashboard.

Keys: q quits, r refreshes, x revokes the job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return watchJob(args[0])
	},
}

// revokeCmd cancels a job
var revokeCmd = &cobra.Command{
	Use:   "revoke <job-id>",
	Short: "Revoke a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().Revoke(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, monitor.FormatState(job.State))
		return nil
	},
}

func watchJob(id string) error {
	p := tea.NewProgram(monitor.NewModel(apiClient(), id, watchInterval), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if m, ok := final.(monitor.Model); ok && m.Job() != nil {
		printJob(rootCmd.OutOrStdout(), m.Job())
	}
	return nil
}

// printJob writes a short job report.
func printJob(w io.Writer, job *jobs.Job) {
	fmt.Fprintf(w, "Job:       %s\n", job.ID)
	fmt.Fprintf(w, "State:     %s\n", monitor.FormatState(job.State))
	fmt.Fprintf(w, "Dir:       %s\n", job.Params.WorkDir)
	fmt.Fprintf(w, "Standards: %s\n", joinOr(job.Params.Standards))
	fmt.Fprintf(w, "Progress:  %s %s\n", monitor.FormatPercentage(monitor.ProgressRatio(job.Progress)), job.Progress.Message)
	end := time.Now()
	if job.FinishedAt != nil {
		end = *job.FinishedAt
	}
	fmt.Fprintf(w, "Elapsed:   %s\n", monitor.FormatElapsed(end.Sub(job.CreatedAt)))
	if job.Result != nil {
		fmt.Fprintf(w, "Result:    %d requirements, %d uncertain, %d documents\n",
			job.Result.NumRequirements(), job.Result.NumUncertain(), job.Result.Documents)
		if job.Result.Artifact != "" {
			fmt.Fprintf(w, "Artifact:  %s\n", job.Result.Artifact)
		}
	}
	for _, e := range job.Errors {
		fmt.Fprintln(w, errStyle.Render("✗ "+e))
	}
}
