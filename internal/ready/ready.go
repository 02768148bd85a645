// Package ready blocks until a caller-supplied health probe succeeds,
// polling with jittered exponential backoff under a hard deadline.
package ready

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when the probe never succeeded before the deadline.
// Probe failures themselves are never surfaced; only the deadline is.
var ErrTimeout = errors.New("timed out waiting for readiness")

// Probe reports nil when the target is ready. Any error means "not ready
// yet", connection refused included.
type Probe func(ctx context.Context) error

// Watcher polls a Probe on a jittered, capped exponential schedule.
// The zero value is unusable; use New.
type Watcher struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// sleep is swapped out by tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Watcher with the given deadline and starting interval. The
// interval grows with jitter and is capped at ten times the initial interval.
func New(timeout, initialInterval time.Duration) *Watcher {
	return &Watcher{
		Timeout:         timeout,
		InitialInterval: initialInterval,
		MaxInterval:     10 * initialInterval,
		sleep:           sleepCtx,
	}
}

// Wait polls the probe until it succeeds, the deadline passes (ErrTimeout),
// or ctx is cancelled. Every failed attempt sleeps; there is no spin-wait.
func (w *Watcher) Wait(ctx context.Context, probe Probe) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.InitialInterval
	b.MaxInterval = w.MaxInterval
	b.MaxElapsedTime = w.Timeout
	b.Reset()

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, probeAttemptTimeout(w.InitialInterval))
		err := probe(attemptCtx)
		cancel()
		if err == nil {
			slog.Debug("Readiness probe succeeded", "attempt", attempt)
			return nil
		}
		slog.Debug("Readiness probe not ready", "attempt", attempt, "error", err)

		next := b.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("%w after %d attempts (%s)", ErrTimeout, attempt, w.Timeout)
		}
		if err := w.sleep(ctx, next); err != nil {
			return err
		}
	}
}

// probeAttemptTimeout bounds a single probe so one stalled attempt cannot
// consume the whole budget.
func probeAttemptTimeout(interval time.Duration) time.Duration {
	if t := 5 * time.Second; interval < t {
		return t
	}
	return interval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPProbe probes url with a GET; any response at all counts as ready,
// regardless of status code.
func HTTPProbe(url string) Probe {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}
