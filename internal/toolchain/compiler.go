package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// FlagsEnv is the variable through which the flag set reaches emcc.
const FlagsEnv = "EMCC_CFLAGS"

// CompilationError is returned when the compiler cannot be started or exits
// with a non-zero status. Diagnostics holds its captured output verbatim.
type CompilationError struct {
	ExitCode    int
	Diagnostics string
	Err         error // start failure, nil when the compiler ran
}

func (e *CompilationError) Error() string {
	diag := strings.TrimSpace(e.Diagnostics)
	if e.Err != nil {
		return fmt.Sprintf("compiler failed to start: %v", e.Err)
	}
	if diag == "" {
		return fmt.Sprintf("compiler exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("compiler exited with status %d:\n%s", e.ExitCode, diag)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// Compiler drives one cross-compile of a cargo project.
type Compiler struct {
	Name        string // compiler driver, e.g. "cargo"
	ProjectDir  string
	ProjectName string
	Target      Target
	Profile     string
	Flags       FlagSet
	Runner      Runner
	Output      io.Writer // live operator output; defaults to os.Stderr
}

// Invocation returns the command the compiler will run.
func (c *Compiler) Invocation() Invocation {
	args := []string{"build", "--target", c.Target.String()}
	args = append(args, profileArgs(c.Profile)...)

	var env []string
	if !c.Flags.IsZero() {
		env = append(env, FlagsEnv+"="+c.Flags.String())
	}
	return Invocation{Name: c.Name, Args: args, Dir: c.ProjectDir, Env: env}
}

// Artifacts returns where the loader and payload are expected.
func (c *Compiler) Artifacts() Artifacts {
	return ArtifactsFor(c.ProjectDir, c.Target, c.Profile, c.ProjectName)
}

// Compile validates the flag set, runs the compiler to completion and checks
// that both artifacts were produced by this run: artifacts left in the
// target directory by an earlier build are removed first. There is no
// timeout: the call returns when the compiler exits or ctx is cancelled.
func (c *Compiler) Compile(ctx context.Context) (Artifacts, error) {
	if err := c.Flags.Validate(c.Target); err != nil {
		return Artifacts{}, err
	}

	inv := c.Invocation()
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	live := c.Output
	if live == nil {
		live = os.Stderr
	}

	art := c.Artifacts()
	for _, p := range []string{art.Loader, art.Payload} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Artifacts{}, fmt.Errorf("remove stale artifact: %w", err)
		}
	}

	slog.Info("compiling", "target", c.Target.String(), "profile", c.Profile, "flags", c.Flags.String())

	var diag bytes.Buffer
	code, err := runner.Run(ctx, inv, io.MultiWriter(live, &diag))
	if err != nil {
		return Artifacts{}, &CompilationError{ExitCode: 127, Diagnostics: diag.String(), Err: err}
	}
	if code != 0 {
		return Artifacts{}, &CompilationError{ExitCode: code, Diagnostics: diag.String()}
	}

	for _, p := range []string{art.Loader, art.Payload} {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return Artifacts{}, &CompilationError{
				ExitCode:    1,
				Diagnostics: diag.String() + fmt.Sprintf("\ntoolchain produced no %s\n", p),
			}
		}
	}
	return art, nil
}
