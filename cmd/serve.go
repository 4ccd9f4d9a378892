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
	"webhookrelay/pkg/gateway"
	"webhookrelay/pkg/logger"
	"webhookrelay/pkg/registry"
	"webhookrelay/pkg/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook relay listener",
	Long:  "Listens for inbound webhooks on /services/{serviceID} and forwards them to the configured Glue webhook. With TEST_MODE=true it probes every webhook and exits instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(runCtx, configPath, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, explicitPath string, out io.Writer) error {
	path, err := config.ResolvePath(explicitPath)
	if err != nil {
		return err
	}

	cfg, loadErr := config.Load(path)
	if loadErr != nil {
		defaults := config.Default()
		cfg = &defaults
	}
	config.ApplyEnvOverrides(cfg)

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", "cmd.serve")

	if config.TestModeEnabled() {
		if loadErr != nil {
			return fmt.Errorf("load config: %w", loadErr)
		}
		log.Info("TEST_MODE enabled, probing webhooks", "config", path)
		return probeAndReport(ctx, registry.New(cfg), appLogger, out)
	}

	store, err := newStore(cfg, path, loadErr, log)
	if err != nil {
		return err
	}

	stopReload := reloadOnHangup(store, log)
	defer stopReload()

	dispatcher := dispatch.New(appLogger)
	svc, err := gateway.NewService(cfg.Server, relay.New(store, dispatcher, appLogger), appLogger)
	if err != nil {
		return fmt.Errorf("initialize listener: %w", err)
	}

	log.Info("Webhook relay starting",
		"config", path,
		"address", svc.Addr(),
		"mode", store.Mode().String(),
		"services", store.Current().Len(),
	)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// newStore picks the reload mode from the debug flag. Load-once mode needs a
// readable config at startup; debug mode reads it again on every request.
func newStore(cfg *config.Config, path string, loadErr error, log *slog.Logger) (*registry.Store, error) {
	if cfg.Server.Debug {
		store := registry.NewStore(registry.FileSource{Path: path}, registry.ReloadEveryRequest)
		if loadErr != nil {
			log.Warn("Config not loadable yet, requests will fail until it is", "config", path, "error", loadErr)
			return store, nil
		}
		store.Set(registry.New(cfg))
		return store, nil
	}

	if loadErr != nil {
		return nil, fmt.Errorf("load config: %w", loadErr)
	}

	store := registry.NewStore(registry.FileSource{Path: path}, registry.LoadOnce)
	store.Set(registry.New(cfg))
	return store, nil
}

// reloadOnHangup swaps in a fresh registry on SIGHUP.
func reloadOnHangup(store *registry.Store, log *slog.Logger) func() {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-hangup:
				reg, err := store.Reload()
				if err != nil {
					log.Error("Config reload failed, keeping previous services", "error", err)
					continue
				}
				log.Info("Config reloaded", "services", reg.Len())
			}
		}
	}()

	return func() {
		signal.Stop(hangup)
		close(done)
	}
}
