package install

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/tunnel"
)

// Uninstall removes everything this tool installed: the managed SwarmUI
// checkout, the managed cloudflared directory, and the tunnel config
// artifact. External installations found on PATH or elsewhere are never
// touched. Removal continues past individual failures and reports them all.
func Uninstall(settings core.Settings) error {
	var errs []error

	if err := removeTree(settings.SwarmUIDir); err != nil {
		errs = append(errs, fmt.Errorf("removing SwarmUI: %w", err))
	} else {
		slog.Info("Removed SwarmUI", "path", settings.SwarmUIDir)
	}

	if err := removeTree(settings.CloudflaredDir); err != nil {
		errs = append(errs, fmt.Errorf("removing cloudflared: %w", err))
	} else {
		slog.Info("Removed cloudflared", "path", settings.CloudflaredDir)
	}

	configPath := filepath.Join(settings.LogDir, tunnel.ConfigFileName)
	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing tunnel config: %w", err))
	}

	return errors.Join(errs...)
}

// removeTree deletes a directory tree, attempting a permission repair and
// one retry when the first pass is denied.
func removeTree(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	err := os.RemoveAll(dir)
	if err == nil {
		return nil
	}
	if !os.IsPermission(err) && !errors.Is(err, os.ErrPermission) {
		return err
	}

	slog.Warn("Removal denied, attempting permission repair", "path", dir)
	if fixErr := FixPermissions(dir); fixErr != nil {
		var permErr *PermissionError
		if errors.As(fixErr, &permErr) {
			fmt.Fprintln(os.Stderr, permErr.RemedyText())
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &PermissionError{
			Path:   dir,
			Err:    err,
			Remedy: manualPermissionFix(dir),
		}
	}
	return nil
}
