package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Ключи контекста запроса, которые понимает orchestrator.
const (
	contextKeyPlan        = "plan"
	contextKeyPlanName    = "plan_name"
	contextKeyResumeRunID = "resume_run_id"
)

// NewOrchestrateCmd создаёт команду выполнения запроса.
func NewOrchestrateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var contextKV []string
	var planFile string
	var planName string
	var resume string
	var async bool

	cmd := &cobra.Command{
		Use:   "orchestrate QUERY",
		Short: "Run a query through the agent ensemble",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runCtx, err := parseContext(contextKV)
			if err != nil {
				return err
			}

			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return fmt.Errorf("read plan: %w", err)
				}
				runCtx[contextKeyPlan] = string(data)
			}
			if planName != "" {
				runCtx[contextKeyPlanName] = planName
			}
			if resume != "" {
				runCtx[contextKeyResumeRunID] = resume
			}

			req := OrchestrateRequest{Query: strings.Join(args, " "), Context: runCtx}

			if async {
				accepted, err := client.Enqueue(req)
				if err != nil {
					return err
				}
				out.Notef("Run queued: %s", accepted.RunID)
				out.Print([]string{"RUN_ID", "PHASE"}, [][]string{{accepted.RunID, accepted.Phase}}, accepted)
				return nil
			}

			res, err := client.Orchestrate(req)
			if res == nil {
				return err
			}
			printResult(out, res)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&contextKV, "context", nil, "Context values as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&planFile, "plan", "", "Plan file (YAML or JSON) with explicit nodes")
	cmd.Flags().StringVar(&planName, "plan-name", "", "Name of a configured plan template")
	cmd.Flags().StringVar(&resume, "resume", "", "Reuse outcomes of a previous run ID")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the query and return immediately")

	return cmd
}

// parseContext разбирает KEY=VALUE пары.
func parseContext(pairs []string) (map[string]any, error) {
	runCtx := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context format %q, expected KEY=VALUE", kv)
		}
		runCtx[key] = value
	}
	return runCtx, nil
}

func printResult(out *Output, res *OrchestrationResult) {
	if out.IsJSON() {
		out.JSON(res)
		return
	}

	out.Table(
		[]string{"RUN_ID", "PHASE", "VERDICT", "SCORE", "SUCCEEDED", "FAILED", "SKIPPED"},
		[][]string{{
			res.RunID,
			res.Phase,
			res.Verdict,
			formatScore(res.OverallScore),
			strconv.Itoa(len(res.Succeeded)),
			strconv.Itoa(len(res.Failed)),
			strconv.Itoa(len(res.Skipped)),
		}},
	)

	if res.Artifact != nil && res.Artifact.Text != "" {
		out.Text("")
		out.Text(res.Artifact.Text)
	}

	if res.Phase == "AWAITING_USER" {
		out.Notef("More input needed:")
	}
	for _, rec := range res.Recommendations {
		out.Notef("  - %s", rec)
	}
	if res.Error != "" {
		out.Warnf("%s", res.Error)
	}
}
