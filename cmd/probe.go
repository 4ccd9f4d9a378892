package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/dispatch"
	"webhookrelay/pkg/logger"
	"webhookrelay/pkg/probe"
	"webhookrelay/pkg/registry"
)

var errProbeFailed = errors.New("webhook probe failed")

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send a test message to every configured webhook",
	Long:  "Loads the relay configuration, posts a test message to each service's Glue webhook and mirror webhook, prints a report, and exits non-zero when any webhook fails or none succeed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runProbe(runCtx, configPath, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, explicitPath string, out io.Writer) error {
	path, err := config.ResolvePath(explicitPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnvOverrides(cfg)

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	return probeAndReport(ctx, registry.New(cfg), appLogger, out)
}

func probeAndReport(ctx context.Context, reg *registry.Registry, log *slog.Logger, out io.Writer) error {
	if reg.Len() == 0 {
		return errors.New("no services configured")
	}

	report := probe.Run(ctx, reg, dispatch.New(log))
	fmt.Fprint(out, report.Render())

	if report.Failed() {
		return errProbeFailed
	}

	return nil
}
