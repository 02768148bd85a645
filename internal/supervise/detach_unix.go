//go:build !windows

package supervise

import (
	"os"
	"syscall"
)

// detachedSysProcAttr puts the child in its own session so the orchestrator's
// terminal going away does not signal it; we keep the handle for explicit
// termination.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// stopSignal delivers the cooperative stop request.
func stopSignal(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
