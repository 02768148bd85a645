// Package locate decides whether SwarmUI and cloudflared are already
// available: locally managed, externally installed, or missing. Detection is
// strictly read-only, no writes and no process spawns.
package locate

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/platform"
)

// Kind identifies which managed component a Target refers to.
type Kind string

const (
	KindWebApp Kind = "webapp"
	KindTunnel Kind = "tunnel"
)

// Source records where a component was found.
type Source string

const (
	// SourceLocal is the project-relative install directory managed by us.
	SourceLocal Source = "local"
	// SourceExternal is a pre-existing installation we attach to but do not own.
	SourceExternal Source = "external"
	// SourceInstalled marks a component this session installed itself.
	SourceInstalled Source = "installed"
	// SourceMissing means nothing was found; the installer must run.
	SourceMissing Source = "missing"
)

// Target is the resolved location of one component. Immutable once resolved
// for the session.
type Target struct {
	Name   string
	Kind   Kind
	Path   string
	Source Source
}

// Found reports whether the component was located at all.
func (t Target) Found() bool {
	return t.Source != SourceMissing
}

// installMarker and the solution file are the two accepted proofs of a usable
// SwarmUI checkout (original installer writes the marker after first-run).
const (
	installMarker = ".installed"
	solutionFile  = "SwarmUI.sln"
)

// swarmUIAt reports whether dir holds a SwarmUI installation.
func swarmUIAt(dir string) bool {
	if dir == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, installMarker)); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, solutionFile)); err == nil {
		return true
	}
	return false
}

// SwarmUI resolves the SwarmUI installation. Search order, first match wins:
// the configured directory, ancestors of the working directory, then
// well-known external locations (sibling and home). ForceLocalSwarmUI
// restricts the search to the configured directory only.
func SwarmUI(settings core.Settings) Target {
	t := Target{Name: "SwarmUI", Kind: KindWebApp, Source: SourceMissing}

	if swarmUIAt(settings.SwarmUIDir) {
		t.Path = settings.SwarmUIDir
		t.Source = SourceLocal
		slog.Debug("Found local SwarmUI", "path", t.Path)
		return t
	}

	if settings.ForceLocalSwarmUI {
		slog.Debug("Force-local SwarmUI: skipping external detection")
		return t
	}

	for _, dir := range externalSwarmUICandidates(settings) {
		if swarmUIAt(dir) {
			t.Path = dir
			t.Source = SourceExternal
			slog.Info("Detected existing SwarmUI", "path", dir)
			return t
		}
	}

	return t
}

// externalSwarmUICandidates lists directories an existing SwarmUI might live
// in: SwarmUI/ under each ancestor of the working directory, the sibling of
// the configured directory, and the user's home.
func externalSwarmUICandidates(settings core.Settings) []string {
	var candidates []string

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidates = append(candidates, filepath.Join(dir, "SwarmUI"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if settings.SwarmUIDir != "" {
		sibling := filepath.Join(filepath.Dir(filepath.Dir(settings.SwarmUIDir)), "SwarmUI")
		candidates = append(candidates, sibling)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "SwarmUI"))
	}

	// The configured directory was already checked; drop duplicates of it.
	out := candidates[:0]
	for _, c := range candidates {
		if c != settings.SwarmUIDir {
			out = append(out, c)
		}
	}
	return out
}

// Cloudflared resolves the cloudflared binary. Search order: system PATH,
// working directory, then the managed cloudflared directory.
// ForceLocalCloudflared restricts the search to the managed directory.
func Cloudflared(settings core.Settings, desc platform.Descriptor) Target {
	t := Target{Name: "cloudflared", Kind: KindTunnel, Source: SourceMissing}
	binary := desc.CloudflaredBinary()

	localPath := filepath.Join(settings.CloudflaredDir, binary)
	if settings.ForceLocalCloudflared {
		if executableAt(localPath, desc) {
			t.Path = localPath
			t.Source = SourceLocal
			slog.Debug("Force-local cloudflared found", "path", localPath)
		}
		return t
	}

	if path, err := exec.LookPath(binary); err == nil {
		t.Path = path
		t.Source = SourceExternal
		slog.Debug("Found cloudflared on PATH", "path", path)
		return t
	}

	if cwd, err := os.Getwd(); err == nil {
		cwdPath := filepath.Join(cwd, binary)
		if executableAt(cwdPath, desc) {
			t.Path = cwdPath
			t.Source = SourceExternal
			slog.Debug("Found cloudflared in working directory", "path", cwdPath)
			return t
		}
	}

	if executableAt(localPath, desc) {
		t.Path = localPath
		t.Source = SourceLocal
		slog.Debug("Found local cloudflared", "path", localPath)
	}
	return t
}

// executableAt reports whether path exists and, on Unix, carries an exec bit.
func executableAt(path string, desc platform.Descriptor) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if desc.OS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// WebAppListening reports whether something is already listening on the
// SwarmUI port, meaning a running instance can be attached to instead of
// spawning a new one.
func WebAppListening(port int) bool {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		slog.Debug("Port scan failed", "error", err)
		return false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) {
			return true
		}
	}
	return false
}
