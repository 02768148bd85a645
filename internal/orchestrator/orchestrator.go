// Package orchestrator drives the whole session: locate or install the
// components, bring up SwarmUI, wait for readiness, bring up the quick
// tunnel, publish its URL, then supervise both children until shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/MathewTomberlin/SwarmTunnel/internal/cleanup"
	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/db"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
	"github.com/MathewTomberlin/SwarmTunnel/internal/locate"
	"github.com/MathewTomberlin/SwarmTunnel/internal/platform"
	"github.com/MathewTomberlin/SwarmTunnel/internal/ready"
	"github.com/MathewTomberlin/SwarmTunnel/internal/supervise"
	"github.com/MathewTomberlin/SwarmTunnel/internal/tunnel"
)

const (
	webAppReadyTimeout = 2 * time.Minute
	readyPollInterval  = 2 * time.Second
	urlExtractTimeout  = 30 * time.Second
)

// ProcessCrashError reports a managed process that exited when it was
// expected to keep running.
type ProcessCrashError struct {
	Name     string
	ExitCode int
}

func (e *ProcessCrashError) Error() string {
	return fmt.Sprintf("process %s exited unexpectedly (code %d)", e.Name, e.ExitCode)
}

// Orchestrator holds the session state shared across pipeline stages.
type Orchestrator struct {
	settings core.Settings
	sup      *supervise.Supervisor
	plan     *cleanup.Coordinator
	events   *db.DB // nil when the event log could not be opened

	webApp     *supervise.Process // nil when attached to an existing instance
	tunnelProc *supervise.Process
	session    *tunnel.Session
}

// New builds an Orchestrator for one session.
func New(settings core.Settings) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		sup:      supervise.New(),
		plan:     cleanup.New(),
	}
}

// Run executes the full pipeline. Cleanup runs exactly once on every exit
// path (normal completion, cancellation, fatal error mid-way) and cleanup
// failures are logged without masking the original error.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if _, derr := o.settings.EnsureLogDir(); derr != nil {
		return derr
	}

	if events, derr := db.Open(o.settings.LogDir); derr != nil {
		slog.Warn("Event log unavailable", "error", derr)
	} else {
		o.events = events
		defer events.Close()
	}
	o.logSession("session_started", "")

	defer func() {
		for _, cerr := range o.plan.Run() {
			slog.Error("Cleanup failure", "error", cerr)
		}
		if err != nil {
			o.logSession("session_failed", err.Error())
		} else {
			o.logSession("session_finished", "")
		}
	}()

	if err := checkDotnet(); err != nil {
		return err
	}

	webTarget, err := o.ensureWebApp(ctx)
	if err != nil {
		return err
	}
	tunnelTarget, err := o.ensureCloudflared(ctx)
	if err != nil {
		return err
	}

	if err := o.startWebApp(ctx, webTarget); err != nil {
		return err
	}

	url, err := o.startTunnel(ctx, tunnelTarget)
	if err != nil {
		return err
	}

	printSummary(o.settings.LocalURL(), url)
	o.logSession("tunnel_ready", url)

	return o.supervise(ctx)
}

// ensureWebApp resolves SwarmUI, installing it when missing. With
// ForceLocalSwarmUI a missing local install is an error rather than an
// install trigger, matching the test-mode semantics of the flag.
func (o *Orchestrator) ensureWebApp(ctx context.Context) (locate.Target, error) {
	settings := o.settings
	if settings.SkipSwarmUICheck {
		slog.Info("Skipping SwarmUI detection, proceeding to install")
		target, err := install.WebApp(ctx, settings)
		o.logInstall("SwarmUI", err)
		return target, err
	}

	target := locate.SwarmUI(settings)
	if target.Found() {
		slog.Info("Using SwarmUI", "path", target.Path, "source", target.Source)
		return target, nil
	}

	if settings.ForceLocalSwarmUI {
		return target, &install.DependencyMissingError{
			Tool:   "SwarmUI",
			Remedy: fmt.Sprintf("No local SwarmUI at %s. Run 'swarmtunnel install' first.", settings.SwarmUIDir),
		}
	}

	slog.Info("SwarmUI not found, installing")
	target, err := install.WebApp(ctx, settings)
	o.logInstall("SwarmUI", err)
	return target, err
}

// ensureCloudflared resolves the tunnel client, installing when missing or
// when a reinstall is forced.
func (o *Orchestrator) ensureCloudflared(ctx context.Context) (locate.Target, error) {
	desc, err := platform.Describe(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return locate.Target{}, err
	}

	if !o.settings.ForceCloudflaredInstall {
		target := locate.Cloudflared(o.settings, desc)
		if target.Found() {
			slog.Info("Using cloudflared", "path", target.Path, "source", target.Source)
			return target, nil
		}
		if o.settings.ForceLocalCloudflared {
			return target, &install.DependencyMissingError{
				Tool:   "cloudflared",
				Remedy: fmt.Sprintf("No local cloudflared at %s. Run 'swarmtunnel install' first.", o.settings.CloudflaredDir),
			}
		}
	}

	slog.Info("Installing cloudflared")
	target, err := install.Cloudflared(ctx, o.settings, desc)
	o.logInstall("cloudflared", err)
	return target, err
}

// startWebApp spawns SwarmUI (or attaches to an already-listening instance)
// and blocks until the local endpoint answers.
func (o *Orchestrator) startWebApp(ctx context.Context, target locate.Target) error {
	settings := o.settings

	if locate.WebAppListening(settings.Port) {
		slog.Info("SwarmUI already running, attaching", "url", settings.LocalURL())
		return nil
	}

	spec, err := webAppSpec(settings, target)
	if err != nil {
		return err
	}

	proc, err := o.sup.Spawn(spec)
	if err != nil {
		return err
	}
	o.webApp = proc
	o.logProcess(proc, "spawned", "")
	o.plan.Record("terminate SwarmUI", func() error {
		o.sup.Terminate(proc, true)
		o.logProcess(proc, "terminated", "")
		return nil
	})

	// Cancel the readiness wait the moment the child dies so a crash is
	// reported as a crash, not as a timeout.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Exited():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	slog.Info("Waiting for SwarmUI", "url", settings.LocalURL(), "timeout", webAppReadyTimeout)
	watcher := ready.New(webAppReadyTimeout, readyPollInterval)
	if err := watcher.Wait(waitCtx, ready.HTTPProbe(settings.LocalURL())); err != nil {
		if state := proc.State(); state == supervise.StateExited || state == supervise.StateKilled {
			status := o.sup.Wait(proc)
			o.logProcess(proc, "crashed", fmt.Sprintf("exit code %d", status.Code))
			return &ProcessCrashError{Name: proc.Name, ExitCode: status.Code}
		}
		return err
	}
	o.logProcess(proc, "ready", "")

	// First successful response from a fresh install completes setup.
	if target.Source == locate.SourceInstalled {
		if err := install.WriteInstallMarker(target.Path); err != nil {
			slog.Warn("Could not write install marker", "error", err)
		}
	}
	return nil
}

// webAppSpec picks how to launch SwarmUI: the bundled launcher script when
// present, the built executable otherwise.
func webAppSpec(settings core.Settings, target locate.Target) (supervise.Spec, error) {
	env := []string{
		"ASPNETCORE_ENVIRONMENT=Production",
		fmt.Sprintf("ASPNETCORE_URLS=http://*:%d", settings.Port),
		"DOTNET_CLI_TELEMETRY_OPTOUT=1",
	}
	logPath := filepath.Join(settings.LogDir, "swarmui.log")

	if launcher := install.FindLauncher(target.Path); launcher != "" {
		if runtime.GOOS == "windows" {
			return supervise.Spec{
				Name: "SwarmUI", Command: "cmd.exe", Args: []string{"/c", launcher},
				Dir: target.Path, Env: env, LogPath: logPath,
			}, nil
		}
		return supervise.Spec{
			Name: "SwarmUI", Command: "/bin/bash", Args: []string{launcher},
			Dir: target.Path, Env: env, LogPath: logPath,
		}, nil
	}

	exe := filepath.Join(target.Path, "src", "bin", "live_release", "SwarmUI")
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	if _, err := os.Stat(exe); err != nil {
		return supervise.Spec{}, &install.DependencyMissingError{
			Tool:   "SwarmUI launcher",
			Remedy: fmt.Sprintf("No launch script or built executable under %s. Run 'swarmtunnel install'.", target.Path),
		}
	}
	return supervise.Spec{
		Name: "SwarmUI", Command: exe,
		Dir: target.Path, Env: env, LogPath: logPath,
	}, nil
}

// startTunnel writes the session config artifact, spawns cloudflared, and
// blocks until the public URL is extracted from its output.
func (o *Orchestrator) startTunnel(ctx context.Context, target locate.Target) (string, error) {
	settings := o.settings

	configPath, err := tunnel.WriteConfig(settings.LogDir, settings.Port)
	if err != nil {
		return "", err
	}
	o.plan.Record("remove tunnel config", func() error {
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	logPath := filepath.Join(settings.LogDir, "cloudflared.log")
	proc, err := o.sup.Spawn(supervise.Spec{
		Name:    "cloudflared",
		Command: target.Path,
		Args:    []string{"tunnel", "--url", settings.LocalURL()},
		LogPath: logPath,
	})
	if err != nil {
		return "", err
	}
	o.tunnelProc = proc
	o.logProcess(proc, "spawned", "")
	o.plan.Record("terminate cloudflared", func() error {
		o.sup.Terminate(proc, true)
		o.logProcess(proc, "terminated", "")
		return nil
	})

	o.session = tunnel.NewSession(logPath)

	// Subscribe with history so lines printed between spawn and here are
	// still seen.
	lines, history := proc.Subscribe(200)
	defer proc.Unsubscribe(lines)

	slog.Info("Waiting for tunnel URL", "timeout", urlExtractTimeout)
	url, err := o.session.WaitForURL(ctx, history, lines, urlExtractTimeout)
	if err != nil {
		if state := proc.State(); state == supervise.StateExited || state == supervise.StateKilled {
			status := o.sup.Wait(proc)
			o.logProcess(proc, "crashed", fmt.Sprintf("exit code %d", status.Code))
			return "", &ProcessCrashError{Name: proc.Name, ExitCode: status.Code}
		}
		return "", err
	}
	return url, nil
}

// supervise blocks in steady state until cancellation or a child exits. A
// crash of either child is fatal and triggers cleanup of the sibling via the
// recorded plan.
func (o *Orchestrator) supervise(ctx context.Context) error {
	var webExit <-chan struct{}
	if o.webApp != nil {
		webExit = o.webApp.Exited()
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested")
		return nil
	case <-webExit:
		status := o.sup.Wait(o.webApp)
		o.logProcess(o.webApp, "crashed", fmt.Sprintf("exit code %d", status.Code))
		return &ProcessCrashError{Name: o.webApp.Name, ExitCode: status.Code}
	case <-o.tunnelProc.Exited():
		status := o.sup.Wait(o.tunnelProc)
		o.logProcess(o.tunnelProc, "crashed", fmt.Sprintf("exit code %d", status.Code))
		return &ProcessCrashError{Name: o.tunnelProc.Name, ExitCode: status.Code}
	}
}

// checkDotnet verifies the .NET SDK SwarmUI needs is present.
func checkDotnet() error {
	if _, err := exec.LookPath("dotnet"); err != nil {
		return &install.DependencyMissingError{
			Tool:   "dotnet",
			Remedy: "Install the .NET 8 SDK from https://dotnet.microsoft.com/download and re-run.",
		}
	}
	return nil
}

func printSummary(localURL, tunnelURL string) {
	fmt.Println()
	fmt.Println("============================================================")
	fmt.Println("SwarmUI is now running!")
	fmt.Printf("  Local URL:  %s\n", localURL)
	fmt.Printf("  Tunnel URL: %s\n", tunnelURL)
	fmt.Println("============================================================")
	fmt.Println("Press Ctrl+C to stop.")
}

func (o *Orchestrator) logSession(eventType, details string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogSessionEvent(eventType, details); err != nil {
		slog.Debug("Event log write failed", "error", err)
	}
}

func (o *Orchestrator) logInstall(component string, installErr error) {
	if o.events == nil {
		return
	}
	eventType := "install_succeeded"
	details := ""
	if installErr != nil {
		eventType = "install_failed"
		details = installErr.Error()
	}
	if err := o.events.LogInstallEvent(component, eventType, details); err != nil {
		slog.Debug("Event log write failed", "error", err)
	}
}

func (o *Orchestrator) logProcess(p *supervise.Process, eventType, details string) {
	if o.events == nil || p == nil {
		return
	}
	if err := o.events.LogProcessEvent(p.Name, eventType, p.Pid(), details); err != nil {
		slog.Debug("Event log write failed", "error", err)
	}
}

// IsTimeout reports whether err is a readiness or URL-extraction deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ready.ErrTimeout) ||
		errors.Is(err, tunnel.ErrTimeout) ||
		errors.Is(err, tunnel.ErrURLNotFound)
}
