package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/training-status/internal/monitor"
)

// newShowCmd creates the 'show' subcommand, which prints the current status once.
func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [status-file]",
		Short: "Print the current training status",
		Long: `Reads the status file once, validates it, and prints it. Without an
argument the file is located from --export-path and --status-filename.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runShowCommand,
	}
	addStatusFileFlags(cmd)
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func runShowCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	raw, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("read output flag: %w", err)
	}
	format, err := monitor.ParseFormat(raw)
	if err != nil {
		return err
	}
	path := e.cfg.StatusPath()
	if len(args) == 1 {
		path = args[0]
	}
	snap, err := monitor.ReadFile(path)
	if err != nil {
		return err
	}
	return monitor.Write(cmd.OutOrStdout(), snap, format)
}
