package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/api"
	"github.com/Iron-Ham/beacon/internal/config"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/hub"
	"github.com/Iron-Ham/beacon/internal/logging"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/session"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the beacon server",
	Long: `Start the orchestrator, file watcher, activity classifier, and the
HTTP/WebSocket server, then run until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close() //nolint:errcheck

	bus := event.NewBus()

	orch, err := orchestrator.New(orchestrator.Config{
		Bus:             bus,
		MaxInstances:    cfg.Orchestrator.MaxInstances,
		OutputChunkSize: cfg.Orchestrator.OutputChunkSize,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	w, err := watcher.New(watcher.Config{
		Bus:    bus,
		Ignore: cfg.Watcher.Ignore,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	store := activity.NewStore(cfg.Activity.MaxRecords)
	classifier, err := activity.NewClassifier(activity.Config{
		Bus:    bus,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	if err := classifier.Start(); err != nil {
		return fmt.Errorf("failed to start classifier: %w", err)
	}

	exec, err := executor.New(executor.Config{
		Runner:            orch,
		Tracker:           session.NewTracker(cfg.Executor.SessionWindow()),
		DefaultExecutable: cfg.Orchestrator.DefaultExecutable,
		DefaultModel:      cfg.Executor.DefaultModel,
		Timeout:           cfg.Executor.Timeout(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	h, err := hub.New(hub.Config{
		Bus:            bus,
		Orchestrator:   orch,
		Watcher:        w,
		Store:          store,
		Executor:       exec,
		SendBufferSize: cfg.Server.SendBufferSize,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}
	if err := h.Start(); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	srv, err := api.New(api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Hub:          h,
		Orchestrator: orch,
		Watcher:      w,
		Store:        store,
		Executor:     exec,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("beacon listening on %s\n", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	// Teardown runs in reverse of construction: stop accepting requests,
	// drop clients, then stop the producers feeding the bus.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	h.Stop()
	classifier.Stop()
	w.Close()
	orch.Close()

	return nil
}
