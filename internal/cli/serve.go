package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conversation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating %s: %w", paths.Base, err)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, appOptions{metrics: cfg.Server.Metrics, dbPath: paths.Database})
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("provider", a.provider.Name()).
				Strs("tools", a.registry.Names()).
				Dur("cache_ttl", a.cache.TTL()).
				Str("session_store", cfg.Session.Store).
				Msg("conversation stack ready")

			opts := []server.Option{server.WithHooks(a.hooks)}
			if a.telemetry != nil {
				opts = append(opts,
					server.WithMetrics(a.telemetry.Metrics),
					server.WithMetricsHandler(a.telemetry.Handler),
				)
			}
			srv := server.New(cfg.Server, a.entity, log, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind address")

	return cmd
}
