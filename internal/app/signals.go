package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnstile/internal/logging"
)

const (
	// GracefulShutdownTimeout is the maximum time to wait for graceful shutdown.
	GracefulShutdownTimeout = 10 * time.Second
	// ForcedShutdownTimeout is the time after which we force exit.
	ForcedShutdownTimeout = 15 * time.Second
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM. If the
// process has not exited ForcedShutdownTimeout after the signal, or a second
// signal arrives, it exits with status 1.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		forceExit := time.NewTimer(ForcedShutdownTimeout)
		defer forceExit.Stop()
		select {
		case sig := <-sigChan:
			logging.Warn("second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-forceExit.C:
			logging.Warn("forced shutdown due to timeout")
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
