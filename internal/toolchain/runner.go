package toolchain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Invocation describes one compiler run.
type Invocation struct {
	Name string   // executable, e.g. "cargo"
	Args []string // arguments after the executable
	Dir  string   // working directory
	Env  []string // KEY=VALUE pairs added to the inherited environment
}

// Runner executes an invocation to completion, writing stdout and stderr to
// out. A nil error means the process ran; its status is the returned exit
// code. A non-nil error means it could not be started at all.
type Runner interface {
	Run(ctx context.Context, inv Invocation, out io.Writer) (int, error)
}

// ExecRunner runs the compiler as a local child process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, inv Invocation, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = out
	cmd.Stderr = out

	slog.Debug("toolchain exec", "name", inv.Name, "args", inv.Args, "dir", inv.Dir)

	return exitStatus(cmd.Run())
}

// exitStatus separates "ran and failed" from "could not run".
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Killed by a signal.
		return 1, nil
	}
	return -1, err
}
