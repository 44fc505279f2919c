package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidb-odata/internal/logging"
)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, cleanupStep{name: name, fn: fn})
}

// run executes every step even when earlier ones fail and returns the
// failures joined.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		start := time.Now()
		err := step.fn(ctx)
		if logger != nil {
			attrs := []any{
				slog.String("component", step.name),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("cleanup failed", append(attrs, slog.String("error", err.Error()))...)
			} else {
				logger.Debug("released", attrs...)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	s.steps = nil
	return errors.Join(errs...)
}

// Shutdown releases everything Init acquired. Repeated calls return the
// outcome of the first one.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.cleanup = cleanupStack{}
		a.started = false
		a.stateMu.Unlock()

		if a.logger != nil {
			a.logger.Info("shutting down", slog.Int("components", len(cleanup.steps)))
		}
		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
