package cli

import (
	"github.com/spf13/cobra"
)

// NewAgentCmd создаёт группу команд для реестра агентов.
func NewAgentCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect registered agents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := clientFn().ListAgents()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "KIND", "ENDPOINT", "FALLBACK", "DESCRIPTION"}
			rows := make([][]string, len(agents))
			for i, a := range agents {
				fallback := "no"
				if a.HasFallback {
					fallback = "yes"
				}
				rows[i] = []string{a.Name, a.Kind, a.Endpoint, fallback, a.Description}
			}

			outputFn().Print(headers, rows, agents)
			return nil
		},
	})

	return cmd
}
