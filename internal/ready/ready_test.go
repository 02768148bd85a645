package ready

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// instantSleep makes the watcher skip real waiting while still honoring
// cancellation.
func instantSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func TestWait_SucceedsAfterRetries(t *testing.T) {
	w := New(time.Minute, 10*time.Millisecond)
	w.sleep = instantSleep

	attempts := 0
	probe := func(ctx context.Context) error {
		attempts++
		if attempts < 4 {
			return errors.New("connection refused")
		}
		return nil
	}

	if err := w.Wait(context.Background(), probe); err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestWait_Timeout(t *testing.T) {
	w := New(50*time.Millisecond, 10*time.Millisecond)

	probe := func(ctx context.Context) error {
		return errors.New("never ready")
	}

	err := w.Wait(context.Background(), probe)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got: %v", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	w := New(time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	probe := func(ctx context.Context) error {
		cancel()
		return errors.New("not yet")
	}

	err := w.Wait(ctx, probe)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
}

func TestWait_ProbeErrorNeverSurfaced(t *testing.T) {
	w := New(30*time.Millisecond, 10*time.Millisecond)

	sentinel := errors.New("sentinel probe failure")
	probe := func(ctx context.Context) error { return sentinel }

	err := w.Wait(context.Background(), probe)
	if errors.Is(err, sentinel) {
		t.Error("probe error leaked into the result")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got: %v", err)
	}
}

func TestHTTPProbe_AnyResponseIsReady(t *testing.T) {
	for _, status := range []int{200, 404, 500} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			probe := HTTPProbe(srv.URL)
			if err := probe(context.Background()); err != nil {
				t.Errorf("status %d should count as ready, got: %v", status, err)
			}
		})
	}
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	probe := HTTPProbe(url)
	if err := probe(context.Background()); err == nil {
		t.Error("expected error for refused connection")
	}
}
