package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/goop/internal/cli"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, and remove the sessions of the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return cli.ListSessions(cmd.Context(), store.Store, os.Stdout)
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the checkpoint of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		render, _ := cmd.Flags().GetBool("render")
		return cli.InspectSession(cmd.Context(), store.Store, args[0], os.Stdout, cli.InspectOptions{
			Render: render,
			Styled: term.IsTerminal(int(os.Stdout.Fd())),
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		return cli.RemoveSessions(cmd.Context(), store.Store, args, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().Bool("render", false, "Render the conversation instead of the raw checkpoint")
}

func openStore(cmd *cobra.Command) (*cli.OpenedStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.OpenStore(cfg.Store)
}
