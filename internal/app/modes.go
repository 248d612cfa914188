package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"skein/internal/appconfig"
	"skein/pkg/logging"
)

// runDaemon reconciles container state, starts the workflow-directory
// watcher and the trigger HTTP server, notifies systemd readiness, and
// blocks for SIGINT/SIGTERM or context cancellation before shutting down
// in reverse order.
func runDaemon(ctx context.Context, appCfg *appconfig.Config, services *Services) error {
	logging.Info("Daemon", "reconciling container state against the running Docker daemon")
	if err := services.Packages.Container().Reconcile(ctx); err != nil {
		logging.Warn("Daemon", "container reconciliation failed: %v", err)
	}

	if err := services.Loader.WatchForChanges(); err != nil {
		logging.Warn("Daemon", "workflow directory watcher not started: %v", err)
	}

	srv := newTriggerServer(*appCfg, services)
	serverErrs := make(chan error, 1)
	go func() {
		logging.Info("Daemon", "trigger server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
			return
		}
		serverErrs <- nil
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Daemon", "systemd notify failed: %v", err)
	} else if sent {
		logging.Info("Daemon", "notified systemd readiness")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logging.Info("Daemon", "context cancelled, shutting down")
	case sig := <-sigChan:
		logging.Info("Daemon", "received %s, shutting down", sig)
	case err := <-serverErrs:
		if err != nil {
			logging.Error("Daemon", err, "trigger server failed")
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Daemon", "trigger server shutdown: %v", err)
	}

	if err := services.Close(); err != nil {
		logging.Warn("Daemon", "service shutdown: %v", err)
	}
	return nil
}
