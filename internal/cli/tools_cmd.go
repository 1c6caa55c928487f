package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/hooks"
	"github.com/soyeahso/chatterbox/internal/plugin"
	"github.com/soyeahso/chatterbox/internal/tools"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools offered to the model",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsInfoCmd())
	cmd.AddCommand(newToolsPluginsCmd())
	return cmd
}

// enabledPlugins starts the plugin set serve would start, without a provider.
func enabledPlugins(ctx context.Context) (*plugin.Registry, *tools.Registry, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		cfg = config.Defaults()
	}
	reg := tools.NewRegistry(log, tools.WithValidation(cfg.Tools.ValidateArgs))
	plugins, err := startPlugins(ctx, cfg.Tools, hooks.NewManager(log), reg,
		tools.NewResultCache(cfg.Tools.CacheTTL), log)
	if err != nil {
		return nil, nil, err
	}
	return plugins, reg, nil
}

// enabledRegistry returns the tool registry after plugin init. The plugins
// stay open; closing them would deregister the tools.
func enabledRegistry(ctx context.Context) (*tools.Registry, error) {
	_, reg, err := enabledPlugins(ctx)
	return reg, err
}

func newToolsPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "Print loaded plugins and the tools each contributed as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plugins, _, err := enabledPlugins(cmd.Context())
			if err != nil {
				return err
			}
			defer plugins.CloseAll()
			data, err := json.MarshalIndent(plugins.Info(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enabled tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := enabledRegistry(cmd.Context())
			if err != nil {
				return err
			}
			for _, def := range reg.Definitions() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-22s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}

func newToolsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Print a tool's definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := enabledRegistry(cmd.Context())
			if err != nil {
				return err
			}
			for _, def := range reg.Definitions() {
				if def.Name != args[0] {
					continue
				}
				data, err := json.MarshalIndent(def, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			return fmt.Errorf("%w: %s", tools.ErrToolNotFound, args[0])
		},
	}
}
