// Command ttslod is the TTSLO daemon's entry point: a thin cobra root
// command that parses the CLI surface, builds a logger, and hands off to
// internal/supervisor.Run for everything else.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raymondclowe/ttslo/internal/config"
	"github.com/raymondclowe/ttslo/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings := config.DefaultSettings()
	v := viper.New()

	exitCode := 0
	root := &cobra.Command{
		Use:           "ttslod",
		Short:         "TTSLO: triggered trailing-stop-loss supervisory daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.ApplyEnvOverlay(v, &settings)
			logger := newLogger(settings.Verbose)
			exitCode = supervisor.Run(cmd.Context(), settings, logger)
			return nil
		},
	}

	config.RegisterFlags(root.Flags(), &settings)
	if err := config.BindEnv(v, root.Flags()); err != nil {
		slog.Default().Error("failed to bind environment overlay", "error", err)
		return 1
	}

	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		slog.Default().Error("ttslod exited with error", "error", err)
		return 1
	}
	return exitCode
}

// newLogger builds the process-wide slog.Logger, text-handled at Info
// level by default and Debug under --verbose.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
