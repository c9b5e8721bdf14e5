package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для просмотра runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect orchestration runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunOutcomesCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "PHASE", "VERDICT", "SCORE", "QUERY", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Phase, r.Verdict, formatScore(r.OverallScore), shorten(r.Query, 40), r.StartedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Phase, "phase", "", "Filter by phase (DONE, FAILED, AWAITING_USER, ...)")
	cmd.Flags().StringVar(&opts.Verdict, "verdict", "", "Filter by verdict (APPROVED, CONDITIONAL_NEEDS_INPUT, REJECTED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "show ID",
		Aliases: []string{"get"},
		Short:   "Show run details",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if IsNotFound(err) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(run)
				return nil
			}

			out.Details([][2]string{
				{"Run", run.ID},
				{"Query", run.Query},
				{"Phase", run.Phase},
				{"Verdict", run.Verdict},
				{"Score", formatScore(run.OverallScore)},
				{"Failed checks", strings.Join(run.FailedChecks, ", ")},
				{"Duration", (time.Duration(run.DurationMs) * time.Millisecond).String()},
				{"Resumed from", run.ResumedFrom},
				{"Error", run.Error},
			})
			out.Text("")
			printOutcomes(out, run.Outcomes)
			return nil
		},
	}
}

func newRunOutcomesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes RUN_ID",
		Short: "List node outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			outcomes, err := client.ListOutcomes(args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(outcomes)
				return nil
			}
			printOutcomes(out, outcomes)
			return nil
		},
	}
}

func printOutcomes(out *Output, outcomes []OutcomeResponse) {
	headers := []string{"TASK_ID", "AGENT", "STATUS", "ATTEMPTS", "ELAPSED_MS", "ERROR"}
	rows := make([][]string, len(outcomes))
	for i, o := range outcomes {
		status := o.Status
		if o.Fallback {
			status += " (fallback)"
		}
		rows[i] = []string{o.TaskID, o.Agent, status, strconv.Itoa(o.Attempts), strconv.FormatInt(o.ElapsedMs, 10), o.Error}
	}
	out.Table(headers, rows)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
