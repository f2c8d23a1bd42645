package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/goop/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "goop",
	Short: "goop is a conversational agent with human review of risky actions",
	Long: `goop runs a language model agent that can call actions exposed by MCP servers.
Protected actions pause the session until you approve, edit, reject or comment on them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to goop.toml (default: ./goop.toml or ~/.config/goop/goop.toml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("store", "", "Override store.driver (memory, file, sqlite, redis)")
}

// loadConfig reads the configuration named by the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if driver, _ := cmd.Flags().GetString("store"); driver != "" {
		cfg.Store.Driver = driver
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func debugFlag(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}
