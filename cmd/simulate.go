package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/app"
	"github.com/JakeFAU/training-status/internal/config"
	"github.com/JakeFAU/training-status/internal/trainer"
)

const closeTimeout = 10 * time.Second

// newSimulateCmd creates the 'simulate' subcommand, which runs the synthetic
// training loop with status publishing wired in.
func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic training loop that publishes its status",
		Long: `Runs a synthetic Gaussian-splatting training loop. With --save-status the
run writes training_status.json into the export path every --status-cadence
iterations and on every phase change.`,
		Args: cobra.NoArgs,
		RunE: runSimulateCommand,
	}
	addStatusFileFlags(cmd)
	flags := cmd.Flags()
	flags.Bool("save-status", false, "publish the training status file")
	flags.Uint64("status-cadence", 10, "publish every N iterations")
	flags.Uint64("total-iterations", 30000, "iteration budget of the run")
	flags.Int("step-delay-ms", 1, "simulated duration of one iteration")
	flags.Uint64("eval-every", 1000, "evaluate every N iterations (0 disables)")
	flags.Uint64("export-every", 5000, "export every N iterations (0 disables)")
	flags.Uint64("fail-at", 0, "inject a failure at this iteration (0 disables)")
	flags.Int64("seed", 1, "seed for the synthetic metrics")
	flags.String("metrics-addr", ":9464", "serve /metrics and /healthz on this address")
	return cmd
}

func runSimulateCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := app.New(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize run: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.Logger().Warn("failed to close run services", zap.Error(cerr))
		}
	}()

	if srv := a.Server(); srv != nil {
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if serr := srv.Run(srvCtx, e.cfg.Metrics.Addr); serr != nil {
				a.Logger().Error("metrics server failed", zap.Error(serr))
			}
		}()
	}

	tracker, err := a.NewTracker()
	if err != nil {
		return err
	}
	tr, err := trainer.New(trainerConfig(e.cfg.Training), tracker, e.cfg.Status.ExportDir, a.Logger().Named("trainer"))
	if err != nil {
		return err
	}

	res, err := tr.Run(ctx)
	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(out, "run %s interrupted at iteration %d\n", a.RunID(), res.Iterations)
		return err
	case err != nil:
		fmt.Fprintf(out, "run %s failed at iteration %d: %v\n", a.RunID(), res.Iterations, err)
		return err
	}
	fmt.Fprintf(out, "run %s completed: %d iterations, %d exports, psnr %.2f, ssim %.4f\n",
		a.RunID(), res.Iterations, len(res.Exports), res.LastPSNR, res.LastSSIM)
	if path := a.StatusPath(); path != "" {
		fmt.Fprintf(out, "status: %s\n", path)
	}
	return nil
}

func trainerConfig(c config.TrainingConfig) trainer.Config {
	return trainer.Config{
		TotalIterations: c.TotalIterations,
		StepDelay:       time.Duration(c.StepDelayMs) * time.Millisecond,
		EvalEvery:       c.EvalEvery,
		EvalDelay:       time.Duration(c.EvalDelayMs) * time.Millisecond,
		ExportEvery:     c.ExportEvery,
		ExportDelay:     time.Duration(c.ExportDelayMs) * time.Millisecond,
		FailAt:          c.FailAt,
		InitialSplats:   c.InitialSplats,
		MaxSplats:       c.MaxSplats,
		Seed:            c.Seed,
	}
}
