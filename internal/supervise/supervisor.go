// Package supervise owns the lifecycle of spawned child processes: detached
// launch, combined output capture to a log file and a line broadcaster,
// graceful termination with forced-kill escalation, and exit monitoring.
package supervise

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// State is a managed process's lifecycle phase. Transitions are monotonic:
// Starting → Running → Exited or Killed, never backwards and never into a
// second terminal state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateKilled   State = "killed"
)

// ExitStatus describes how a managed process ended.
type ExitStatus struct {
	Code   int
	Killed bool
}

// Spec describes a child process to spawn.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment
	LogPath string   // combined stdout/stderr destination
}

// Process is a supervised child. The raw *os.Process handle never leaves
// this package; callers interact through the Supervisor.
type Process struct {
	Name    string
	LogPath string

	cmd      *exec.Cmd
	pid      int
	output   *Broadcaster
	logFile  *os.File
	state    State
	exitCode int
	exited   chan struct{}
	mu       sync.RWMutex
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.pid }

// State returns the current lifecycle phase.
func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Subscribe returns a channel of output lines plus recent history. The
// channel closes when the process's output stream ends.
func (p *Process) Subscribe(historyLines int) (chan string, []string) {
	return p.output.SubscribeWithHistory(historyLines)
}

// Unsubscribe releases a channel obtained from Subscribe.
func (p *Process) Unsubscribe(ch chan string) {
	p.output.Unsubscribe(ch)
}

// Exited is closed once the process reaches a terminal state.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Supervisor spawns and terminates managed processes.
type Supervisor struct {
	// GraceTimeout bounds how long a graceful terminate waits before
	// escalating to a forced kill.
	GraceTimeout time.Duration
}

// New returns a Supervisor with the default grace timeout.
func New() *Supervisor {
	return &Supervisor{GraceTimeout: 5 * time.Second}
}

// Spawn starts the described child detached from the controlling terminal
// and returns immediately with a live handle. All combined output is teed to
// spec.LogPath and to the process's broadcaster.
func (s *Supervisor) Spawn(spec Spec) (*Process, error) {
	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory for %s: %w", spec.Name, err)
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file for %s: %w", spec.Name, err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = detachedSysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("piping %s output: %w", spec.Name, err)
	}
	cmd.Stderr = cmd.Stdout

	p := &Process{
		Name:    spec.Name,
		LogPath: spec.LogPath,
		cmd:     cmd,
		output:  NewBroadcaster(1000),
		logFile: logFile,
		state:   StateStarting,
		exited:  make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting %s: %w", spec.Name, err)
	}
	p.pid = cmd.Process.Pid

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	slog.Info("Started process", "name", spec.Name, "pid", p.pid, "log", spec.LogPath)

	go p.pumpOutput(stdout)
	go p.reap()

	return p, nil
}

// pumpOutput copies the combined stream line-by-line into the log file and
// the broadcaster until the pipe closes.
func (p *Process) pumpOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(p.logFile, line)
		p.output.Broadcast(line)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Output stream ended with error", "process", p.Name, "error", err)
	}
	p.logFile.Close()
	p.output.Close()
}

// reap waits for the child and records the terminal state. The Killed state
// set by Terminate wins over the Exited transition here.
func (p *Process) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	if p.state != StateKilled {
		p.state = StateExited
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
			}
		}
	}
	state, code := p.state, p.exitCode
	p.mu.Unlock()

	slog.Debug("Process exited", "name", p.Name, "pid", p.pid, "state", state, "code", code)
	close(p.exited)
}

// Wait blocks until the process reaches a terminal state.
func (s *Supervisor) Wait(p *Process) ExitStatus {
	<-p.exited
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ExitStatus{Code: p.exitCode, Killed: p.state == StateKilled}
}

// Terminate stops a managed process. With graceful set it sends the
// cooperative stop signal and waits up to GraceTimeout before escalating to
// a forced kill; otherwise it kills immediately. Terminating an
// already-terminal process is a no-op.
func (s *Supervisor) Terminate(p *Process, graceful bool) {
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.state == StateExited || p.state == StateKilled {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !graceful {
		slog.Info("Killing process", "name", p.Name, "pid", p.pid)
		p.markKilled()
		p.cmd.Process.Kill()
		<-p.exited
		return
	}

	slog.Info("Stopping process", "name", p.Name, "pid", p.pid)
	if err := stopSignal(p.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
		slog.Warn("Stop signal failed, forcing kill", "name", p.Name, "error", err)
		p.markKilled()
		p.cmd.Process.Kill()
		<-p.exited
		return
	}

	select {
	case <-p.exited:
		slog.Debug("Process stopped gracefully", "name", p.Name)
	case <-time.After(s.GraceTimeout):
		slog.Warn("Process did not stop in time, forcing kill",
			"name", p.Name, "timeout", s.GraceTimeout)
		p.markKilled()
		p.cmd.Process.Kill()
		<-p.exited
	}
}

// markKilled records the forced-kill terminal state before the reaper
// observes the exit, so Wait reports Killed rather than Exited.
func (p *Process) markKilled() {
	p.mu.Lock()
	if p.state != StateExited {
		p.state = StateKilled
	}
	p.mu.Unlock()
}
