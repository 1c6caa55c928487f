package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/server"
	"github.com/soyeahso/chatterbox/internal/version"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and query the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chatterbox %s (commit %s)\n\n", version.Version, version.Commit)
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			printSummary(out, cfg)

			if addr == "" {
				addr = net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			h, err := fetchHealth(ctx, "http://"+addr)
			if err != nil {
				fmt.Fprintf(out, "Server:  unreachable at %s (%v)\n", addr, err)
				return nil
			}
			fmt.Fprintf(out, "Server:  %s at %s entity=%s sessions=%d\n", h.Status, addr, h.EntityName, h.ActiveSessions)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server host:port (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "health request timeout")

	return cmd
}

func printSummary(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "LLM:     model=%s base=%s fallbacks=%d\n", cfg.LLM.Model, cfg.LLM.BaseURL, len(cfg.LLM.Fallbacks))
	fmt.Fprintf(out, "Tools:   %s (timeout=%s cache=%s)\n",
		strings.Join(cfg.Tools.Enabled, ", "), cfg.Tools.Timeout, cfg.Tools.CacheTTL)
	fmt.Fprintf(out, "Server:  bind=%s port=%d auth=%s\n", cfg.Server.Bind, cfg.Server.Port, cfg.Server.Auth.Mode)
	fmt.Fprintf(out, "Session: store=%s history=%d turns\n", cfg.Session.Store, cfg.Conversation.MaxHistoryTurns)

	if issues := config.Validate(&cfg); len(issues) > 0 {
		fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
		}
	}
	fmt.Fprintln(out)
}

// fetchHealth queries GET /health on baseURL.
func fetchHealth(ctx context.Context, baseURL string) (*server.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var h server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &h, nil
}
