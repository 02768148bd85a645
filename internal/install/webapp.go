package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/locate"
)

// SwarmUIRepo is the upstream source repository cloned on install.
const SwarmUIRepo = "https://github.com/mcmonkeyprojects/SwarmUI.git"

// launcherScripts are the per-platform launch scripts SwarmUI ships with.
// Their presence means first-run setup happens at launch, so the install
// marker is deferred until the web UI has come up once.
var launcherScripts = []string{
	"launch-windows.bat", "launch_windows.bat",
	"launch-linux.sh", "launch_linux.sh",
	"launch-macos.sh", "launch_macos.sh",
}

// WebApp clones SwarmUI into the configured directory. Idempotent: an
// already-populated directory is left untouched and returned as-is. A failed
// or incomplete clone removes the directory before returning.
func WebApp(ctx context.Context, settings core.Settings) (locate.Target, error) {
	target := locate.Target{Name: "SwarmUI", Kind: locate.KindWebApp, Source: locate.SourceMissing}
	dir := settings.SwarmUIDir

	if existing := locate.SwarmUI(settings); existing.Source == locate.SourceLocal {
		slog.Info("SwarmUI already installed", "path", existing.Path)
		return existing, nil
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		return target, &DependencyMissingError{
			Tool:   "git",
			Remedy: "Install git from https://git-scm.com/downloads and re-run the installer.",
		}
	}

	slog.Info("Cloning SwarmUI", "repo", SwarmUIRepo, "dir", dir)
	cmd := exec.CommandContext(ctx, gitPath, "clone", "--depth", "1", SwarmUIRepo, dir)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		removeCloneDir(dir)
		if ctx.Err() != nil {
			return target, ctx.Err()
		}
		return target, &NetworkError{URL: SwarmUIRepo, Err: fmt.Errorf("git clone failed: %w", err)}
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		removeCloneDir(dir)
		return target, &CorruptArchiveError{Path: dir, Reason: "clone appears incomplete (.git missing)"}
	}

	recordCloneLocation(settings, dir)

	// Permission lockouts from git-created files only occur on Windows; the
	// probe-and-remediate pass is a no-op elsewhere. A remediation failure is
	// reported but does not abort the rest of the pipeline.
	if err := FixPermissions(dir); err != nil {
		var perm *PermissionError
		if errors.As(err, &perm) {
			slog.Warn("Automatic permission fix failed; manual commands required", "path", dir)
			fmt.Fprintln(os.Stderr, "Run the following from an elevated prompt:")
			fmt.Fprintln(os.Stderr, perm.RemedyText())
		} else {
			slog.Warn("Permission remediation failed", "error", err)
		}
	}

	if !hasLauncher(dir) {
		// No launcher means the clone itself is the whole install; mark it.
		if err := writeInstallMarker(dir); err != nil {
			slog.Warn("Could not write install marker", "error", err)
		}
	}

	if settings.EnableLAN {
		if err := EnableLANBinding(dir, settings.Port); err != nil {
			slog.Warn("Could not enable LAN binding", "error", err)
		}
	}

	slog.Info("SwarmUI installed", "path", dir)
	target.Path = dir
	target.Source = locate.SourceInstalled
	return target, nil
}

func hasLauncher(dir string) bool {
	for _, name := range launcherScripts {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindLauncher returns the launch script to start SwarmUI with, searching the
// root first and then a shallow walk of the tree.
func FindLauncher(dir string) string {
	for _, name := range launcherScripts {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Shallow walk; deep trees (node_modules, model dirs) are not worth
	// scanning for a launcher.
	const maxDepth = 3
	var found string
	root := filepath.Clean(dir)
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		if d.IsDir() {
			if strings.Count(rel, string(filepath.Separator)) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		for _, name := range launcherScripts {
			if d.Name() == name {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

func writeInstallMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, ".installed"), []byte("installed\n"), 0o644)
}

// WriteInstallMarker marks a SwarmUI directory as fully set up. Called by the
// orchestrator once the web UI has answered for the first time.
func WriteInstallMarker(dir string) error {
	return writeInstallMarker(dir)
}

// recordCloneLocation appends where the clone landed to the install log so
// the user can find it even if the console closed.
func recordCloneLocation(settings core.Settings, dir string) {
	if _, err := settings.EnsureLogDir(); err != nil {
		return
	}
	abs, _ := filepath.Abs(dir)
	cwd, _ := os.Getwd()
	line := fmt.Sprintf("[%s] clone_path=%s cwd=%s\n", time.Now().UTC().Format(time.RFC3339), abs, cwd)

	logPath := filepath.Join(settings.LogDir, "swarmtunnel_install.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line)
}

func removeCloneDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("Could not remove partial clone", "dir", dir, "error", err)
	}
}

