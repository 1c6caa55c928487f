package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatterbox/internal/config"
	"github.com/soyeahso/chatterbox/internal/logging"
)

// Set by the root command before any subcommand runs.
var (
	cfgFile  string
	logLevel string
	paths    config.Paths
	log      *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatterbox",
		Short: "Chatterbox: tool-calling voice assistant backend",
		Long:  "Chatterbox turns transcribed speech into spoken-style answers using an OpenAI-compatible LLM and real-time tools.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" && !logging.KnownLevel(logLevel) {
				return fmt.Errorf("unknown --log-level %q", logLevel)
			}
			var err error
			if paths, err = config.ResolvePaths(); err != nil {
				return fmt.Errorf("resolving paths: %w", err)
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			log = logging.New(cmd.ErrOrStderr(), logLevel)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatterbox/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"overrides logging.level ("+strings.Join(logging.Levels, ", ")+")")

	cmd.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newToolsCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads and validates the config file and rebuilds the logger
// from its logging section. --log-level still wins over the file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, &config.ConfigError{Message: "validation failed: " + issues[0].String()}
	}

	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	log = logging.ForFormat(cfg.Logging.Format, level)
	return cfg, nil
}
