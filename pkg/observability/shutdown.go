package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the HTTP server and then runs registered cleanup
// functions in reverse registration order.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

// Register adds a named cleanup step.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then shuts down.
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested")
	return sm.Shutdown()
}

// Shutdown runs the shutdown sequence immediately.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdown(nil), sm.funcs...)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		step := funcs[i]
		if err := step.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("step", step.name).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		sm.logger.WithField("step", step.name).Debug("Shutdown step complete")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

// RecoverPanic logs a recovered panic with its stack. Call it deferred in
// background goroutines such as cron jobs and async email sends.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}
