package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/db"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
	"github.com/MathewTomberlin/SwarmTunnel/internal/locate"
	"github.com/MathewTomberlin/SwarmTunnel/internal/ready"
	"github.com/MathewTomberlin/SwarmTunnel/internal/tunnel"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func runSettings(t *testing.T, port int) core.Settings {
	t.Helper()
	base := t.TempDir()
	return core.Settings{
		SwarmUIDir:            filepath.Join(base, "SwarmUI"),
		CloudflaredDir:        filepath.Join(base, "cloudflared"),
		LogDir:                filepath.Join(base, "logs"),
		Port:                  port,
		ForceLocalSwarmUI:     true,
		ForceLocalCloudflared: true,
	}
}

// stubDotnet puts a fake dotnet on a fresh PATH so the dependency check
// passes without the real SDK.
func stubDotnet(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "dotnet"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+":/usr/bin:/bin")
}

func markInstalledWebApp(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".installed"), []byte("installed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// stubCloudflared writes a fake cloudflared into the managed dir. The script
// records its pid and runs until terminated; lines holds what it prints
// before that.
func stubCloudflared(t *testing.T, dir, pidPath string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\necho $$ > " + pidPath + "\n"
	for _, line := range lines {
		script += "echo '" + line + "'\n"
	}
	script += "exec sleep 60\n"
	if err := os.WriteFile(filepath.Join(dir, "cloudflared"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func readPid(t *testing.T, pidPath string) int {
	t.Helper()
	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing pid file %q: %v", data, err)
	}
	return pid
}

func processGone(pid int) bool {
	return syscall.Kill(pid, 0) != nil
}

func TestRun_MissingDotnet(t *testing.T) {
	quietLogger(t)
	t.Setenv("PATH", t.TempDir())

	err := New(runSettings(t, 7801)).Run(context.Background())
	var depErr *install.DependencyMissingError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyMissingError, got: %v", err)
	}
	if depErr.Tool != "dotnet" {
		t.Errorf("expected tool dotnet, got %q", depErr.Tool)
	}
}

func TestRun_WebAppCrashReported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix stub scripts")
	}
	quietLogger(t)
	stubDotnet(t)

	// Reserve a port nothing will listen on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	settings := runSettings(t, port)
	markInstalledWebApp(t, settings.SwarmUIDir)
	if err := os.WriteFile(filepath.Join(settings.SwarmUIDir, "launch-linux.sh"),
		[]byte("#!/bin/sh\nexit 7\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	stubCloudflared(t, settings.CloudflaredDir, filepath.Join(t.TempDir(), "cf.pid"))

	err = New(settings).Run(context.Background())
	var crash *ProcessCrashError
	if !errors.As(err, &crash) {
		t.Fatalf("expected ProcessCrashError, got: %v", err)
	}
	if crash.Name != "SwarmUI" {
		t.Errorf("expected SwarmUI crash, got %q", crash.Name)
	}
	if crash.ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", crash.ExitCode)
	}
}

func TestRun_InterruptBeforeTunnelURLLeavesNoChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix stub scripts")
	}
	quietLogger(t)
	stubDotnet(t)

	// Already-listening web app: Run attaches instead of spawning
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	settings := runSettings(t, port)
	markInstalledWebApp(t, settings.SwarmUIDir)

	// Never prints a URL, so Run is stuck in extraction when interrupted
	pidPath := filepath.Join(t.TempDir(), "cf.pid")
	stubCloudflared(t, settings.CloudflaredDir, pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(settings).Run(ctx) }()

	waitFor(t, 15*time.Second, "cloudflared spawn", func() bool {
		_, err := os.Stat(pidPath)
		return err == nil
	})
	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if !errors.Is(runErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", runErr)
	}

	pid := readPid(t, pidPath)
	waitFor(t, 10*time.Second, "cloudflared teardown", func() bool {
		return processGone(pid)
	})

	if _, err := os.Stat(filepath.Join(settings.LogDir, tunnel.ConfigFileName)); !os.IsNotExist(err) {
		t.Error("tunnel config artifact survived cleanup")
	}

	// The attached web app is not ours to kill
	if _, err := http.Get(srv.URL); err != nil {
		t.Errorf("attached web app was torn down: %v", err)
	}
}

func TestRun_ShutdownTerminatesTunnel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix stub scripts")
	}
	quietLogger(t)
	stubDotnet(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	settings := runSettings(t, port)
	markInstalledWebApp(t, settings.SwarmUIDir)

	pidPath := filepath.Join(t.TempDir(), "cf.pid")
	stubCloudflared(t, settings.CloudflaredDir, pidPath,
		"INF |  https://steady-state-ab12.trycloudflare.com |")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- New(settings).Run(ctx) }()

	// The tunnel_ready event marks the hand-off into steady-state
	// supervision.
	events, err := db.Open(settings.LogDir)
	if err != nil {
		t.Fatal(err)
	}
	defer events.Close()
	waitFor(t, 15*time.Second, "tunnel URL discovery", func() bool {
		recent, err := events.RecentSessionEvents(20)
		if err != nil {
			return false
		}
		for _, ev := range recent {
			if ev.EventType == "tunnel_ready" {
				return true
			}
		}
		return false
	})
	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		t.Fatalf("unexpected error: %v", runErr)
	}

	pid := readPid(t, pidPath)
	waitFor(t, 10*time.Second, "cloudflared teardown", func() bool {
		return processGone(pid)
	})

	if _, err := os.Stat(filepath.Join(settings.LogDir, tunnel.ConfigFileName)); !os.IsNotExist(err) {
		t.Error("tunnel config artifact survived cleanup")
	}
}

func TestWebAppSpec_UsesLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix launcher test")
	}

	dir := t.TempDir()
	launcher := filepath.Join(dir, "launch-linux.sh")
	if err := os.WriteFile(launcher, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	settings := core.Settings{Port: 7801, LogDir: t.TempDir()}
	target := locate.Target{Name: "SwarmUI", Path: dir, Source: locate.SourceLocal}

	spec, err := webAppSpec(settings, target)
	if err != nil {
		t.Fatalf("webAppSpec failed: %v", err)
	}
	if spec.Command != "/bin/bash" {
		t.Errorf("command = %q", spec.Command)
	}
	if len(spec.Args) != 1 || spec.Args[0] != launcher {
		t.Errorf("args = %v", spec.Args)
	}
	if spec.Dir != dir {
		t.Errorf("dir = %q", spec.Dir)
	}

	var hasBinding bool
	for _, e := range spec.Env {
		if strings.HasPrefix(e, "ASPNETCORE_URLS=") && strings.Contains(e, "7801") {
			hasBinding = true
		}
	}
	if !hasBinding {
		t.Errorf("missing port binding in env: %v", spec.Env)
	}
}

func TestWebAppSpec_NoLauncherNoBinary(t *testing.T) {
	settings := core.Settings{Port: 7801, LogDir: t.TempDir()}
	target := locate.Target{Name: "SwarmUI", Path: t.TempDir(), Source: locate.SourceLocal}

	_, err := webAppSpec(settings, target)
	var depErr *install.DependencyMissingError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyMissingError, got: %v", err)
	}
}

func TestWebAppSpec_BuiltExecutableFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix path layout")
	}

	dir := t.TempDir()
	binDir := filepath.Join(dir, "src", "bin", "live_release")
	os.MkdirAll(binDir, 0o755)
	exe := filepath.Join(binDir, "SwarmUI")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	settings := core.Settings{Port: 7801, LogDir: t.TempDir()}
	target := locate.Target{Name: "SwarmUI", Path: dir, Source: locate.SourceLocal}

	spec, err := webAppSpec(settings, target)
	if err != nil {
		t.Fatalf("webAppSpec failed: %v", err)
	}
	if spec.Command != exe {
		t.Errorf("command = %q, want %q", spec.Command, exe)
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ready.ErrTimeout, true},
		{tunnel.ErrTimeout, true},
		{tunnel.ErrURLNotFound, true},
		{fmt.Errorf("wrapped: %w", ready.ErrTimeout), true},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsTimeout(tt.err); got != tt.want {
			t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestProcessCrashError_Message(t *testing.T) {
	err := &ProcessCrashError{Name: "cloudflared", ExitCode: 1}
	msg := err.Error()
	if !strings.Contains(msg, "cloudflared") || !strings.Contains(msg, "1") {
		t.Errorf("uninformative message: %q", msg)
	}
}
