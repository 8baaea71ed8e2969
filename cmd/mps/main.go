// Command mps classifies particle files and generates initial scenes.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/mps/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:          "mps",
		Short:        "Particle neighbor search and free-surface classification",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(g.logFormat, g.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if err := config.Init(g.configPath); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "Path to config.yaml (empty = use defaults)")
	flags.StringVar(&g.logFormat, "log-format", "json", "Log format: json or text")
	flags.StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// newLogger builds the slog logger for the CLI. Logs go to stderr so stdout
// stays free for command output.
func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or text)", format)
	}
}
