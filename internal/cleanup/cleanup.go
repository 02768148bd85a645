// Package cleanup centralizes teardown: every side effect the session
// creates registers a reversal here, and one idempotent Run releases them
// all in LIFO order no matter which exit path fires first.
package cleanup

import (
	"fmt"
	"log/slog"
	"sync"
)

// Action reverses one recorded side effect.
type Action struct {
	Label string
	Run   func() error
}

// Coordinator accumulates cleanup actions as side effects occur and runs
// them exactly once, most recent first. Record is safe from concurrent
// contexts (signal handler vs. main flow); a second Run is a no-op.
type Coordinator struct {
	mu      sync.Mutex
	actions []Action
	once    sync.Once
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// Record registers an action to be run at teardown. Later records run
// earlier (LIFO), so the most recently started resource is released first.
func (c *Coordinator) Record(label string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, Action{Label: label, Run: fn})
}

// Run executes all recorded actions in reverse order of registration. Each
// failure is caught and collected independently so one failed action never
// blocks the rest. Only the first invocation does anything; subsequent calls
// return nil.
func (c *Coordinator) Run() []error {
	var errs []error
	c.once.Do(func() {
		c.mu.Lock()
		actions := c.actions
		c.actions = nil
		c.mu.Unlock()

		if len(actions) == 0 {
			return
		}
		slog.Info("Cleaning up", "actions", len(actions))

		for i := len(actions) - 1; i >= 0; i-- {
			a := actions[i]
			if err := runIsolated(a); err != nil {
				slog.Error("Cleanup action failed", "action", a.Label, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", a.Label, err))
				continue
			}
			slog.Debug("Cleanup action done", "action", a.Label)
		}
	})
	return errs
}

// runIsolated converts a panicking action into an error so a broken reversal
// cannot abort the remaining teardown.
func runIsolated(a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run()
}
