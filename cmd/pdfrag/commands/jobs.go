package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/queue"
)

// NewJobsCmd constructs the `pdfrag jobs` command group for inspecting and
// repairing the ingestion queue.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage ingestion jobs",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsRequeueCmd(), newJobsStatsCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Long: `List ingestion jobs, newest first.

Examples:
  pdfrag jobs list
  pdfrag jobs list --state dead`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			defer rt.Close()

			jobs, err := rt.queue.List(ctx, queue.State(state), limit)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tATTEMPT\tDOCUMENT\tUPDATED\tLAST ERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					j.ID, j.State, j.Attempt, j.MaxAttempts, j.Payload.DocumentID,
					j.UpdatedAt.Local().Format(time.DateTime), j.LastError)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only list jobs in this state (pending, claimed, completed, dead)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list")

	return cmd
}

func newJobsRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Move a dead-lettered job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			defer rt.Close()

			if err := rt.queue.Requeue(ctx, args[0]); err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s requeued\n", args[0])
			return nil
		},
	}
}

func newJobsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of jobs in each state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			defer rt.Close()

			stats, err := rt.queue.Stats(ctx)
			if err != nil {
				return fmt.Errorf("jobs: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, s := range []queue.State{queue.StatePending, queue.StateClaimed, queue.StateCompleted, queue.StateDead} {
				fmt.Fprintf(out, "%-10s %d\n", s, stats[s])
			}
			return nil
		},
	}
}
