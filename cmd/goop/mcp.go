package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/goop"
	"github.com/aretw0/goop/internal/cli"
	"github.com/aretw0/goop/pkg/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run goop as a Model Context Protocol (MCP) server",
	Long: `Exposes goop sessions as MCP tools (start_session, send_message,
resume_session, inspect_session) so other agents can drive them.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")

		// Logs go to Stderr so they never corrupt JSON-RPC on Stdout.
		logger := cli.NewLogger(cfg.Log, debugFlag(cmd))
		log.SetOutput(os.Stderr)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		app, err := cli.NewApp(sigCtx, cfg, cli.AppOptions{Debug: debugFlag(cmd), Logger: logger})
		if err != nil {
			return err
		}
		defer app.Close()

		srv := mcp.NewServer(app.Agent.Engine(), goop.Version, logger)

		switch transport {
		case "stdio":
			logger.Info("Starting goop MCP server (stdio)")
			return srv.ServeStdio()
		case "sse":
			if baseURL == "" {
				baseURL = "http://localhost" + addr
			}
			if err := srv.ServeSSE(sigCtx, addr, baseURL); err != nil {
				return err
			}
			logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "Address to listen on (only for SSE)")
	mcpCmd.Flags().String("base-url", "", "Public base URL announced to SSE clients")
}
