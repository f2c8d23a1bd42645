package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/goop"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of goop",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("goop version %s\n", strings.TrimSpace(goop.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
