//go:build windows

package install

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// FixPermissions remediates the ACL lockouts git leaves behind on Windows
// (read-only/system/hidden attributes, ownership held by another principal).
// A quick write probe decides whether remediation is needed at all; after one
// attrib/takeown/icacls pass the probe is retried once. If it still fails, a
// PermissionError carrying the exact manual commands is returned; the caller
// reports it without aborting the rest of the install.
func FixPermissions(dir string) error {
	if err := writeProbe(dir); err == nil {
		return nil
	}

	target := currentUserName()
	slog.Info("Attempting Windows permission remediation", "dir", dir, "user", target, "elevated", isElevated())

	// Strip attributes first: icacls cannot touch files still flagged
	// read-only/system/hidden.
	runQuiet("cmd.exe", "/c", "attrib", "-R", "-S", "-H", filepath.Join(dir, "*.*"), "/S")
	if gitDir := filepath.Join(dir, ".git"); dirExists(gitDir) {
		runQuiet("cmd.exe", "/c", "attrib", "-R", "-S", "-H", filepath.Join(gitDir, "*.*"), "/S")
		runQuiet("cmd.exe", "/c", "attrib", "-R", "-S", "-H", gitDir)
		runQuiet("icacls", gitDir, "/grant", target+":(OI)(CI)F", "/T", "/C")
	}
	runQuiet("takeown", "/F", dir, "/R", "/D", "Y")
	runQuiet("icacls", dir, "/grant", target+":(OI)(CI)F", "/T", "/C")

	if err := writeProbe(dir); err != nil {
		return &PermissionError{Path: dir, Err: err, Remedy: manualPermissionFix(dir)}
	}
	return nil
}

// writeProbe verifies the directory accepts file creation by the current
// process.
func writeProbe(dir string) error {
	probe := filepath.Join(dir, ".swarmtunnel-perm-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// isElevated reports whether the process token carries the Administrators
// elevation.
func isElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

func currentUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username // DOMAIN\User form
	}
	if name := os.Getenv("USERNAME"); name != "" {
		return name
	}
	return "Everyone"
}

func runQuiet(name string, args ...string) {
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Debug("Remediation command failed", "cmd", name, "error", err, "output", string(out))
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// manualPermissionFix lists the commands an administrator must run when
// automatic remediation fails.
func manualPermissionFix(dir string) []string {
	user := currentUserName()
	cmds := []string{
		fmt.Sprintf(`attrib -R -S -H "%s\*.*" /S`, dir),
		fmt.Sprintf(`attrib -R -S -H "%s" /D`, dir),
		fmt.Sprintf(`takeown /F "%s" /R /D Y`, dir),
		fmt.Sprintf(`icacls "%s" /setowner "%s" /T /C`, dir, user),
		fmt.Sprintf(`icacls "%s" /grant "%s:(OI)(CI)F" /T /C`, dir, user),
	}
	if gitDir := filepath.Join(dir, ".git"); dirExists(gitDir) {
		cmds = append(cmds,
			fmt.Sprintf(`attrib -R -S -H "%s\*.*" /S`, gitDir),
			fmt.Sprintf(`takeown /F "%s" /R /D Y`, gitDir),
			fmt.Sprintf(`icacls "%s" /grant "%s:(OI)(CI)F" /T /C`, gitDir, user),
		)
	}
	return cmds
}
