// Package cmd defines and implements the CLI commands for the trainstatus executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/config"
	"github.com/JakeFAU/training-status/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once flags have been parsed.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "trainstatus",
		Short: "Publish and follow machine-readable training status.",
		Long: `trainstatus drives a training loop that publishes its progress as a small
JSON document, replaced atomically at a fixed iteration cadence, and provides
commands to read and follow that document from outside the process.`,
		SilenceUsage: true,

		// Configuration and logging are resolved here so that flags, the
		// config file and TRAINSTATUS_* variables all apply to every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = logging.Sync(e.logger)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("dev", true, "use the development logger")

	cmd.AddCommand(newSimulateCmd(), newShowCmd(), newWatchCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// addStatusFileFlags registers the flags that locate the status file.
func addStatusFileFlags(cmd *cobra.Command) {
	cmd.Flags().String("status-filename", "training_status.json", "name of the status file inside the export path")
	cmd.Flags().String("export-path", "./output", "output directory holding exports and the status file")
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
