package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-session/config"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
	logFile    string

	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Run URLs through browser sessions",
		Long: `sessionctl builds sessions for one of the supported backends
(http_emulator, headless, webdriver_firefox, webdriver_chrome) from a YAML
configuration file and SESSION_* environment overrides.

The configuration file is looked up at --config, ./session.yaml and the
per-user config directory, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, closer, err := newLogger(opts.verbose, opts.logFile)
			if err != nil {
				return err
			}
			opts.logCloser = closer
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the session configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this rotating file")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newMemoryCmd())
	return cmd
}

// loadConfig reads the configuration file when one exists, falls back to the
// defaults otherwise, then applies environment overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := config.FindConfigFile(o.configPath); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if loaded != nil {
			cfg = loaded
			slog.Debug("configuration loaded", slog.String("path", path))
		}
	} else if o.configPath != "" {
		return nil, fmt.Errorf("%s: %w", o.configPath, config.ErrConfigNotFound)
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
