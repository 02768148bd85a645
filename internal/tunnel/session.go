// Package tunnel extracts the public quick-tunnel URL from cloudflared's
// live output and tracks the session it belongs to.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// urlPattern matches the public URL line cloudflared prints for quick
// tunnels.
var urlPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

var (
	// ErrURLNotFound means the output stream closed before any URL appeared.
	ErrURLNotFound = errors.New("tunnel output ended without a public URL")
	// ErrTimeout means no URL appeared within the extraction deadline.
	ErrTimeout = errors.New("timed out waiting for tunnel URL")
)

// Session tracks one quick-tunnel lifetime. The URL is write-once: the first
// match wins and later matches are ignored; reads are idempotent.
type Session struct {
	LogPath string

	mu           sync.RWMutex
	url          string
	discoveredAt time.Time
}

// NewSession creates a session whose raw output is logged at logPath.
func NewSession(logPath string) *Session {
	return &Session{LogPath: logPath}
}

// URL returns the published URL and whether it has been set.
func (s *Session) URL() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.url != ""
}

// DiscoveredAt returns when the URL was first seen.
func (s *Session) DiscoveredAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discoveredAt
}

// publish sets the URL once; subsequent calls are no-ops.
func (s *Session) publish(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.url != "" {
		return false
	}
	s.url = url
	s.discoveredAt = time.Now()
	return true
}

// WaitForURL scans replayed history and then live output lines until the
// public URL appears, the stream closes (ErrURLNotFound), the deadline
// passes (ErrTimeout), or ctx is cancelled. The matched URL is published to
// the session exactly once.
func (s *Session) WaitForURL(ctx context.Context, history []string, lines <-chan string, timeout time.Duration) (string, error) {
	for _, line := range history {
		if url := urlPattern.FindString(line); url != "" {
			if s.publish(url) {
				slog.Info("Tunnel URL discovered", "url", url)
			}
			url, _ := s.URL()
			return url, nil
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", ErrURLNotFound
			}
			if url := urlPattern.FindString(line); url != "" {
				if s.publish(url) {
					slog.Info("Tunnel URL discovered", "url", url)
				}
				url, _ := s.URL()
				return url, nil
			}
		case <-deadline.C:
			return "", fmt.Errorf("%w (%s)", ErrTimeout, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// ConfigFileName is the quick-tunnel ingress artifact written next to the
// logs. Write-mostly: nothing reads it back, it documents the session for
// the user and is removed during cleanup.
const ConfigFileName = "tunnel_config.yml"

// WriteConfig writes the ingress config artifact into logDir and returns its
// path.
func WriteConfig(logDir string, port int) (string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(logDir, ConfigFileName)
	content := fmt.Sprintf("tunnel: swarmui-tunnel\n\ningress:\n  - service: http://localhost:%d\n", port)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing tunnel config: %w", err)
	}
	return path, nil
}
