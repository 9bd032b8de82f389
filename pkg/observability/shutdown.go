package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown. The context
// carries the shutdown deadline.
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP server and tears down registered
// resources when the process receives SIGINT or SIGTERM.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager creates a shutdown manager for the given server.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// RegisterShutdownFunc adds a named hook to run after the HTTP server
// has drained. Hooks run concurrently with each other.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT or SIGTERM arrives, then runs
// Shutdown with the configured timeout.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(ctx)
}

// Shutdown drains the HTTP server so in-flight requests finish, then
// runs every registered hook. Hook failures are collected rather than
// aborting the remaining hooks.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	if sm.server != nil {
		sm.logger.Info("draining http server")
		if err := sm.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
	}

	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	errs := make([]error, len(hooks))
	var wg sync.WaitGroup
	for i, hook := range hooks {
		wg.Add(1)
		go func(i int, hook shutdownHook) {
			defer wg.Done()
			if err := hook.fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("shutdown hook %s failed", hook.name)
				errs[i] = fmt.Errorf("%s: %w", hook.name, err)
				return
			}
			sm.logger.Infof("shutdown hook %s complete", hook.name)
		}(i, hook)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
