package serverapp

import (
	"context"
	"errors"
	"fmt"
)

// StopReason tells the caller why Wait returned.
type StopReason string

const (
	// StopRequested means the caller's context ended, usually on SIGTERM.
	StopRequested StopReason = "requested"
	// StopServerError means the listener failed.
	StopServerError StopReason = "server_error"
)

// Start launches the HTTP server goroutine. It requires Init to have
// completed; calling it again returns the running server's error channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.parts == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	if !a.started {
		a.serverErrors = startServer(a.cfg, a.logger, a.parts.srv, a.parts.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

// Wait blocks until ctx ends or the running server fails. It does not shut
// anything down; callers follow it with Shutdown.
func (a *App) Wait(ctx context.Context) (StopReason, error) {
	a.stateMu.Lock()
	serverErrors := a.serverErrors
	a.stateMu.Unlock()
	if serverErrors == nil {
		return "", errors.New("app is not started")
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
		return StopServerError, err
	case <-ctx.Done():
		if a.logger != nil {
			a.logger.Info("stop requested")
		}
		return StopRequested, nil
	}
}
