package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"NDGRClient/internal/config"
	"NDGRClient/internal/telemetry"
	"NDGRClient/internal/viewer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ndgrclient <program-url>",
		Short: "Watch the comment stream of a live program",
		Long: `ndgrclient connects to a live program page, follows its NDGR comment
stream and shows the comments in the terminal. Lines typed on stdin are
posted as comments; /quit exits.

Configuration is read from NDGR_* environment variables and an optional
.env file in the working directory. Logs go to NDGR_LOG_DIR.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, args[0])
		},
	}
}

func run(ctx context.Context, programURL string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter, cleanup := telemetry.Noop()
	if cfg.Telemetry {
		tracer, meter, cleanup, err = telemetry.InitTelemetry(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	defer cleanup()

	v, err := viewer.New(cfg, logger, viewer.WithTelemetry(tracer, meter))
	if err != nil {
		return fmt.Errorf("failed to initialize viewer: %w", err)
	}

	if err := v.Run(ctx, programURL, os.Stdin, os.Stdout); err != nil {
		logger.Error("viewer failed", "error", err)
		return err
	}
	return nil
}
