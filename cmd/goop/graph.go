package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/goop/internal/cli"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the reasoning, review and execute nodes.
With --session the nodes the session visited and its next node are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			return cli.PrintGraph(cmd.Context(), nil, "", os.Stdout)
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return cli.PrintGraph(cmd.Context(), store.Store, sessionID, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the position of a session")
}
