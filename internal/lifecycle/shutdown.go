// Package lifecycle runs named teardown hooks in parallel on shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown collects teardown hooks and runs them concurrently when the
// process is asked to stop.
type Shutdown struct {
	mu    sync.Mutex
	hooks []hook
	log   *slog.Logger
}

// NewShutdown constructs an empty shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named hook. Order of registration does not imply order of
// execution: hooks run in parallel.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
	s.mu.Unlock()
}

// Execute runs every registered hook concurrently and waits for all of them.
// A failing hook does not stop the others; failures are joined into one error.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()

	s.log.Info("shutdown sequence started", slog.Int("hooks", len(hooks)))
	start := time.Now()

	errCh := make(chan error, len(hooks))
	var wg sync.WaitGroup

	for _, h := range hooks {
		wg.Add(1)
		go func(h hook) {
			defer wg.Done()

			hookStart := time.Now()
			if err := h.fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.name), slog.Any("error", err))
				errCh <- fmt.Errorf("%s: %w", h.name, err)
				return
			}

			s.log.Info("shutdown hook completed", slog.String("hook", h.name), slog.Duration("took", time.Since(hookStart)))
		}(h)
	}

	wg.Wait()
	close(errCh)

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
