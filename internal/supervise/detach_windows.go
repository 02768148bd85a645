//go:build windows

package supervise

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// detachedSysProcAttr starts the child in its own process group without a
// console window, so console Ctrl events aimed at the orchestrator do not
// reach it.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW,
	}
}

// stopSignal has no cooperative equivalent for arbitrary console programs on
// Windows; callers escalate to Kill after the grace period anyway, so request
// the kill directly.
func stopSignal(proc *os.Process) error {
	return proc.Kill()
}
