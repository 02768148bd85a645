package install

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnableLANBinding makes a freshly-cloned SwarmUI bind on all interfaces so
// the tunnel (and LAN clients) can reach it. Launch scripts get an
// ASPNETCORE_URLS line prepended when they don't already set one; when no
// script is touched, a fallback .env.swarmtunnel file records the desired
// binding as a visible, reversible artifact.
func EnableLANBinding(dir string, port int) error {
	binding := fmt.Sprintf("http://0.0.0.0:%d", port)
	touched := false

	for _, name := range []string{"launch-windows.bat", "launch_windows.bat"} {
		path := filepath.Join(dir, name)
		ok, err := prependIfMissing(path, "ASPNETCORE_URLS",
			fmt.Sprintf("set ASPNETCORE_URLS=%s\r\n", binding))
		if err != nil {
			return err
		}
		touched = touched || ok
	}

	for _, name := range []string{"launch-linux.sh", "launch_linux.sh", "launch-macos.sh", "launch_macos.sh"} {
		path := filepath.Join(dir, name)
		ok, err := prependIfMissing(path, "ASPNETCORE_URLS",
			fmt.Sprintf("export ASPNETCORE_URLS=%q\n", binding))
		if err != nil {
			return err
		}
		if ok {
			touched = true
			if err := os.Chmod(path, 0o755); err != nil {
				slog.Debug("Could not chmod launcher", "path", path, "error", err)
			}
		}
	}

	fallback := filepath.Join(dir, ".env.swarmtunnel")
	if _, err := os.Stat(fallback); os.IsNotExist(err) {
		if err := os.WriteFile(fallback, []byte("ASPNETCORE_URLS="+binding+"\n"), 0o644); err != nil {
			slog.Debug("Could not write LAN env fallback", "error", err)
		}
	}

	if touched {
		slog.Info("Configured SwarmUI launchers to bind on all interfaces")
	}
	return nil
}

// prependIfMissing prepends line to the file at path when the file exists and
// does not already contain marker. Reports whether the file was modified.
func prependIfMissing(path, marker, line string) (bool, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, classifyFSError(path, err)
	}
	if strings.Contains(string(content), marker) {
		return false, nil
	}
	if err := os.WriteFile(path, append([]byte(line), content...), 0o644); err != nil {
		return false, classifyFSError(path, err)
	}
	return true, nil
}
