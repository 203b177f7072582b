// Package shutdown turns SIGINT and SIGTERM into context cancellation and
// runs cleanup hooks in reverse registration order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
)

// Handler manages graceful shutdown of the application
type Handler struct {
	shutdownFuncs []func() error
	mu            sync.Mutex
	once          sync.Once
	logger        *logger.Logger
}

func NewHandler(log *logger.Logger) *Handler {
	return &Handler{
		logger: log.WithComponent("shutdown"),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (h *Handler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFuncs = append(h.shutdownFuncs, fn)
}

// Context returns a context cancelled on SIGINT, SIGTERM or when stop is
// called. A running scan observes the cancellation and ends as cancelled.
func (h *Handler) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			h.logger.Infow("Received signal, cancelling", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Shutdown executes all registered shutdown functions once, newest first.
func (h *Handler) Shutdown() error {
	var errs []error
	h.once.Do(func() {
		h.mu.Lock()
		funcs := append([]func() error(nil), h.shutdownFuncs...)
		h.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				h.logger.Errorw("Error during shutdown", "error", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// ShutdownWithTimeout executes shutdown with a timeout
func (h *Handler) ShutdownWithTimeout(timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		done <- h.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
