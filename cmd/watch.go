package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/monitor"
	"github.com/JakeFAU/training-status/internal/progress"
)

// newWatchCmd creates the 'watch' subcommand, which follows the status file
// until the run completes or fails.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [status-file]",
		Short: "Follow the training status until the run finishes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatchCommand,
	}
	addStatusFileFlags(cmd)
	cmd.Flags().Int("poll-interval-ms", 1000, "fallback polling interval")
	cmd.Flags().Bool("no-bar", false, "print one line per update instead of a progress bar")
	return cmd
}

func runWatchCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	noBar, err := cmd.Flags().GetBool("no-bar")
	if err != nil {
		return fmt.Errorf("read no-bar flag: %w", err)
	}
	path := e.cfg.StatusPath()
	if len(args) == 1 {
		path = args[0]
	}

	out := cmd.OutOrStdout()
	var bar *monitor.BarRenderer
	if !noBar {
		bar = monitor.NewBarRenderer(cmd.ErrOrStderr())
	}
	render := func(snap progress.Snapshot) {
		if bar == nil {
			fmt.Fprintln(out, monitor.Summary(snap))
			return
		}
		if rerr := bar.Render(snap); rerr != nil {
			e.logger.Debug("progress bar render failed", zap.Error(rerr))
		}
	}

	e.logger.Debug("watching status file", zap.String("path", path))
	final, err := monitor.NewWatcher(path, e.cfg.PollInterval(), e.logger.Named("watch")).Run(cmd.Context(), render)
	if bar != nil {
		if ferr := bar.Finish(); ferr != nil {
			e.logger.Debug("progress bar finish failed", zap.Error(ferr))
		}
	}
	if err != nil {
		return err
	}
	if bar != nil {
		fmt.Fprintln(out, monitor.Summary(final))
	}
	if final.Phase == progress.PhaseError {
		return fmt.Errorf("training ended with status %q at iteration %d", final.Phase, final.CurrentIteration)
	}
	return nil
}
