package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/goop/internal/cli"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Starts an interactive session. When the agent proposes a protected action you
are asked to reject, continue, update (edit the arguments) or give feedback.
Type /continue to retry after an error, and exit or quit to leave. The session
is saved and can be resumed later with --session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		debug := debugFlag(cmd)
		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		app, err := cli.NewApp(sigCtx, cfg, cli.AppOptions{
			Debug: debug,
			Quiet: true,
		})
		if err != nil {
			return err
		}
		defer app.Close()

		sessionID, _ := cmd.Flags().GetString("session")
		fresh, _ := cmd.Flags().GetBool("fresh")
		yolo, _ := cmd.Flags().GetBool("yolo")
		styled := term.IsTerminal(int(os.Stdout.Fd()))

		return cli.Chat(sigCtx, app, cli.ChatOptions{
			SessionID: sessionID,
			Fresh:     fresh,
			Yolo:      yolo,
			Banner:    styled,
			Styled:    styled,
			Input:     os.Stdin,
			Output:    os.Stdout,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "Session ID to start or resume (default: a new UUID)")
	chatCmd.Flags().Bool("fresh", false, "Discard the session before starting")
	chatCmd.Flags().Bool("yolo", false, "Auto-approve every action of new sessions")

	// Chat is the default command.
	rootCmd.RunE = chatCmd.RunE
	rootCmd.Flags().AddFlagSet(chatCmd.Flags())
}
