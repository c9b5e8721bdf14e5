package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API, если не задан ни флаг, ни ENSEMBLE_API_URL.
const DefaultAPIURL = "http://localhost:8080"

// NewRootCmd создаёт корневую команду ensemble.
func NewRootCmd(version string) *cobra.Command {
	var apiURL string
	var jsonOutput bool
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:           "ensemble",
		Short:         "Ensemble CLI — multi-agent orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("ENSEMBLE_API_URL")
	if defaultURL == "" {
		defaultURL = DefaultAPIURL
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	// Синхронный orchestrate ждёт все уровни графа, поэтому запас большой.
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Request timeout")

	clientFn := func() *Client { return NewClient(apiURL, timeout) }
	outputFn := func() *Output { return NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		NewOrchestrateCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewAgentCmd(clientFn, outputFn),
	)

	return rootCmd
}
