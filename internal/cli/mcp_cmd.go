package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/mcp"
	"github.com/soyeahso/chatterbox/internal/version"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the enabled tools over MCP on stdin/stdout",
		Long: "Runs a Model Context Protocol server on stdio so other agents can call the " +
			"weather and datetime tools. Results go through the same timeout, retry and cache " +
			"as conversation turns. Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// No conversations run here, so never open the session database.
			cfg.Session.Store = "memory"

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.New("chatterbox", version.Version,
				a.registry.Definitions(), a.dispatch, log)
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
