package supervise

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func spawnSleep(t *testing.T, s *Supervisor) *Process {
	t.Helper()
	p, err := s.Spawn(Spec{
		Name:    "test-sleep",
		Command: "sleep",
		Args:    []string{"60"},
		LogPath: filepath.Join(t.TempDir(), "sleep.log"),
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	t.Cleanup(func() { s.Terminate(p, false) })
	return p
}

func TestSpawn_CapturesOutput(t *testing.T) {
	quietLogger(t)

	s := New()
	logPath := filepath.Join(t.TempDir(), "echo.log")
	p, err := s.Spawn(Spec{
		Name:    "test-echo",
		Command: "sh",
		Args:    []string{"-c", "echo hello world"},
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}

	status := s.Wait(p)
	if status.Code != 0 {
		t.Errorf("expected exit code 0, got %d", status.Code)
	}
	if status.Killed {
		t.Error("expected Killed=false for natural exit")
	}
	if p.State() != StateExited {
		t.Errorf("expected state %q, got %q", StateExited, p.State())
	}

	// Output pump may still be flushing right after exit
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(logPath)
		if err == nil && strings.Contains(string(data), "hello world") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("log file missing output, got: %q", string(data))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawn_OutputReachesSubscribers(t *testing.T) {
	quietLogger(t)

	s := New()
	p, err := s.Spawn(Spec{
		Name:    "test-lines",
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two"},
		LogPath: filepath.Join(t.TempDir(), "lines.log"),
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}

	// History covers lines printed before the subscription
	ch, history := p.Subscribe(100)
	defer p.Unsubscribe(ch)

	got := append([]string{}, history...)
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case line, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed early, got %v", got)
			}
			got = append(got, line)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("expected [one two], got %v", got)
	}
}

func TestSpawn_BadCommand(t *testing.T) {
	quietLogger(t)

	s := New()
	_, err := s.Spawn(Spec{
		Name:    "test-missing",
		Command: "/nonexistent/binary",
		LogPath: filepath.Join(t.TempDir(), "missing.log"),
	})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestTerminate_Graceful(t *testing.T) {
	quietLogger(t)

	s := New()
	p := spawnSleep(t, s)

	done := make(chan struct{})
	go func() {
		s.Terminate(p, true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("graceful terminate did not return")
	}

	status := s.Wait(p)
	if status.Killed {
		t.Error("expected graceful stop, got forced kill")
	}
	if p.State() != StateExited {
		t.Errorf("expected state %q, got %q", StateExited, p.State())
	}
}

func TestTerminate_Forced(t *testing.T) {
	quietLogger(t)

	s := New()
	p := spawnSleep(t, s)

	s.Terminate(p, false)

	status := s.Wait(p)
	if !status.Killed {
		t.Error("expected Killed=true after forced kill")
	}
	if p.State() != StateKilled {
		t.Errorf("expected state %q, got %q", StateKilled, p.State())
	}
}

func TestTerminate_AlreadyExited(t *testing.T) {
	quietLogger(t)

	s := New()
	p, err := s.Spawn(Spec{
		Name:    "test-true",
		Command: "true",
		LogPath: filepath.Join(t.TempDir(), "true.log"),
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	s.Wait(p)

	// Both variants must be no-ops on a terminal process
	s.Terminate(p, true)
	s.Terminate(p, false)

	if p.State() != StateExited {
		t.Errorf("terminal state changed to %q", p.State())
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	quietLogger(t)

	s := New()
	p := spawnSleep(t, s)

	s.Terminate(p, false)
	start := time.Now()
	s.Terminate(p, false)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("second terminate took %s, expected immediate return", elapsed)
	}
}

func TestStopSignal_ProcessAlreadyDone(t *testing.T) {
	quietLogger(t)

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	cmd.Wait()

	// Terminate treats this as a clean no-op; the sentinel must survive
	// wrapping.
	err := stopSignal(cmd.Process)
	if !errors.Is(err, os.ErrProcessDone) {
		t.Errorf("expected os.ErrProcessDone, got: %v", err)
	}
}

func TestWait_ExitCode(t *testing.T) {
	quietLogger(t)

	s := New()
	p, err := s.Spawn(Spec{
		Name:    "test-exit3",
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		LogPath: filepath.Join(t.TempDir(), "exit3.log"),
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}

	status := s.Wait(p)
	if status.Code != 3 {
		t.Errorf("expected exit code 3, got %d", status.Code)
	}
}

func TestExited_ClosesOnExit(t *testing.T) {
	quietLogger(t)

	s := New()
	p, err := s.Spawn(Spec{
		Name:    "test-quick",
		Command: "true",
		LogPath: filepath.Join(t.TempDir(), "quick.log"),
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("Exited channel never closed")
	}
}
