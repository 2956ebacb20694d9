// Package dispatch supervises the telemetry units as isolated child
// processes under one shared wall-clock budget.
//
// Process isolation is deliberate: the units shell out to host tooling
// and talk to services that may hang arbitrarily, and a hung unit must
// be killable without any cooperation. Units are waited on in the order
// given, so the first unit gets the full budget and later ones whatever
// remains.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"dlctelemetry/internal/check"
)

// Unit describes one child process to supervise.
type Unit struct {
	Name string // diagnostics only
	Path string // executable path
	Args []string
	Env  []string // nil inherits the parent environment
}

// Result records how a unit ended. It exists for logging; no outcome
// here affects the caller.
type Result struct {
	Name      string
	Completed bool
	Status    string
}

type running struct {
	unit Unit
	cmd  *exec.Cmd
	wait chan error
	done bool
}

// Run starts all units concurrently, waits for each in order until the
// shared deadline, then force-kills and reaps anything still alive. It
// always returns within the budget plus reap time, no matter how badly
// a unit misbehaves.
func Run(ctx context.Context, units []Unit, budget time.Duration) []Result {
	check.Assertf(budget > 0, "dispatch.Run: budget %s must be positive", budget)

	results := make([]Result, len(units))
	procs := make([]*running, len(units))

	for i, u := range units {
		results[i] = Result{Name: u.Name}

		cmd := exec.Command(u.Path, u.Args...)
		cmd.Env = u.Env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			slog.Error("unit start failed", "unit", u.Name, "err", err)
			results[i].Status = "start failed: " + err.Error()
			continue
		}

		r := &running{unit: u, cmd: cmd, wait: make(chan error, 1)}
		go func() { r.wait <- cmd.Wait() }()
		procs[i] = r
	}

	deadline := time.Now().Add(budget)
	for i, r := range procs {
		if r == nil {
			continue
		}
		// A unit that already finished is recorded as completed even
		// when the budget ran out waiting on an earlier unit.
		select {
		case err := <-r.wait:
			r.done = true
			results[i].Completed = true
			results[i].Status = exitStatus(err)
			continue
		default:
		}
		select {
		case err := <-r.wait:
			r.done = true
			results[i].Completed = true
			results[i].Status = exitStatus(err)
		case <-time.After(time.Until(deadline)):
		case <-ctx.Done():
		}
	}

	for i, r := range procs {
		if r == nil || r.done {
			continue
		}
		slog.Debug("killing overrunning unit", "unit", r.unit.Name, "pid", r.cmd.Process.Pid)
		sigErr := r.cmd.Process.Signal(unix.SIGKILL)
		err := <-r.wait // reap; SIGKILL cannot be ignored, so this returns promptly
		if errors.Is(sigErr, os.ErrProcessDone) {
			// Exited on its own between the wait window and the kill.
			results[i].Completed = true
			results[i].Status = exitStatus(err)
			continue
		}
		results[i].Status = "killed after deadline"
	}

	return results
}

func exitStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
