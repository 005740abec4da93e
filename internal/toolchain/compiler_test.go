package toolchain_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yawgame/webrelease/internal/testutil"
	"github.com/yawgame/webrelease/internal/toolchain"
	"github.com/yawgame/webrelease/internal/toolchain/mock"
)

func TestMain(m *testing.M) { testutil.Main(m) }

// envRunner adds per-test variables to the child environment.
type envRunner struct {
	inner toolchain.Runner
	env   []string
}

func (r envRunner) Run(ctx context.Context, inv toolchain.Invocation, out io.Writer) (int, error) {
	inv.Env = append(inv.Env, r.env...)
	return r.inner.Run(ctx, inv, out)
}

// recordRunner records the invocation and returns a fixed result.
type recordRunner struct {
	got    toolchain.Invocation
	code   int
	err    error
	output string
}

func (r *recordRunner) Run(_ context.Context, inv toolchain.Invocation, out io.Writer) (int, error) {
	r.got = inv
	io.WriteString(out, r.output)
	return r.code, r.err
}

func webTarget(t *testing.T) toolchain.Target {
	t.Helper()
	target, err := toolchain.ParseTarget(toolchain.DefaultTarget)
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func TestInvocation(t *testing.T) {
	t.Parallel()

	c := &toolchain.Compiler{
		Name:       "cargo",
		ProjectDir: "/src/yaw",
		Target:     webTarget(t),
		Profile:    "release",
		Flags:      toolchain.FlagSet{AsyncControlTransfer: true, EmbedDirs: []string{"map"}},
	}
	inv := c.Invocation()
	if got := strings.Join(inv.Args, " "); got != "build --target wasm32-unknown-emscripten --release" {
		t.Errorf("Args = %q", got)
	}
	if inv.Dir != "/src/yaw" {
		t.Errorf("Dir = %q", inv.Dir)
	}
	if len(inv.Env) != 1 || inv.Env[0] != "EMCC_CFLAGS=-s ASYNCIFY --embed-file map" {
		t.Errorf("Env = %v", inv.Env)
	}

	c.Flags = toolchain.FlagSet{}
	if env := c.Invocation().Env; len(env) != 0 {
		t.Errorf("empty flag set should not set EMCC_CFLAGS, got %v", env)
	}
}

func TestCompileProducesArtifacts(t *testing.T) {
	t.Parallel()

	dir := testutil.NewProject(t)
	var live bytes.Buffer
	c := &toolchain.Compiler{
		Name:        testutil.Compiler(t),
		ProjectDir:  dir,
		ProjectName: "yaw",
		Target:      webTarget(t),
		Profile:     "release",
		Flags:       toolchain.FlagSet{PreloadPlugins: true, EmbedDirs: []string{"map"}},
		Runner:      toolchain.ExecRunner{},
		Output:      &live,
	}

	art, err := c.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{art.Loader, art.Payload} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}
	if filepath.Base(art.Loader) != "yaw.js" || filepath.Base(art.Payload) != "yaw.wasm" {
		t.Errorf("artifacts = %+v", art)
	}
	if !strings.Contains(live.String(), "Compiling yaw") {
		t.Errorf("compiler output not streamed: %q", live.String())
	}
}

func TestCompileFailureCarriesDiagnostics(t *testing.T) {
	t.Parallel()

	dir := testutil.NewProject(t)
	c := &toolchain.Compiler{
		Name:        testutil.Compiler(t),
		ProjectDir:  dir,
		ProjectName: "yaw",
		Target:      webTarget(t),
		Profile:     "release",
		Runner:      envRunner{inner: toolchain.ExecRunner{}, env: []string{mock.FailEnv + "=1"}},
		Output:      io.Discard,
	}

	_, err := c.Compile(context.Background())
	var compErr *toolchain.CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
	if compErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d", compErr.ExitCode)
	}
	if !strings.Contains(compErr.Diagnostics, "undefined reference") {
		t.Errorf("Diagnostics = %q", compErr.Diagnostics)
	}
	if _, err := os.Stat(c.Artifacts().Payload); !errors.Is(err, os.ErrNotExist) {
		t.Error("no payload should exist after a failed compile")
	}
}

func TestPTYRunner(t *testing.T) {
	t.Parallel()

	t.Run("compiles", func(t *testing.T) {
		t.Parallel()
		var live bytes.Buffer
		c := &toolchain.Compiler{
			Name:        testutil.Compiler(t),
			ProjectDir:  testutil.NewProject(t),
			ProjectName: "yaw",
			Target:      webTarget(t),
			Profile:     "release",
			Runner:      toolchain.PTYRunner{},
			Output:      &live,
		}
		art, err := c.Compile(context.Background())
		if err != nil {
			t.Fatalf("%v\n%s", err, live.String())
		}
		if _, err := os.Stat(art.Payload); err != nil {
			t.Errorf("payload missing: %v", err)
		}
		if !strings.Contains(live.String(), "Compiling yaw") {
			t.Errorf("terminal output not streamed: %q", live.String())
		}
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		c := &toolchain.Compiler{
			Name:        testutil.Compiler(t),
			ProjectDir:  testutil.NewProject(t),
			ProjectName: "yaw",
			Target:      webTarget(t),
			Profile:     "release",
			Runner:      envRunner{inner: toolchain.PTYRunner{}, env: []string{mock.FailEnv + "=1"}},
			Output:      io.Discard,
		}
		_, err := c.Compile(context.Background())
		var compErr *toolchain.CompilationError
		if !errors.As(err, &compErr) {
			t.Fatalf("expected CompilationError, got %v", err)
		}
		if compErr.ExitCode != 1 {
			t.Errorf("ExitCode = %d, want 1", compErr.ExitCode)
		}
		if !strings.Contains(compErr.Diagnostics, "undefined reference") {
			t.Errorf("Diagnostics = %q", compErr.Diagnostics)
		}
		if strings.Contains(compErr.Diagnostics, "\r\n") {
			t.Errorf("terminal line endings leaked into diagnostics: %q", compErr.Diagnostics)
		}
	})
}

func TestCompileStartFailure(t *testing.T) {
	t.Parallel()

	c := &toolchain.Compiler{
		Name:        filepath.Join(t.TempDir(), "no-such-cargo"),
		ProjectDir:  t.TempDir(),
		ProjectName: "yaw",
		Target:      webTarget(t),
		Output:      io.Discard,
	}
	_, err := c.Compile(context.Background())
	var compErr *toolchain.CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
	if compErr.ExitCode != 127 || compErr.Err == nil {
		t.Errorf("ExitCode = %d, Err = %v", compErr.ExitCode, compErr.Err)
	}
}

func TestCompileMissingArtifact(t *testing.T) {
	t.Parallel()

	r := &recordRunner{output: "    Finished release\n"}
	c := &toolchain.Compiler{
		Name:        "cargo",
		ProjectDir:  t.TempDir(),
		ProjectName: "yaw",
		Target:      webTarget(t),
		Profile:     "release",
		Runner:      r,
		Output:      io.Discard,
	}
	_, err := c.Compile(context.Background())
	var compErr *toolchain.CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
	if !strings.Contains(compErr.Diagnostics, "toolchain produced no") {
		t.Errorf("Diagnostics = %q", compErr.Diagnostics)
	}
}

func TestCompileIgnoresStaleArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := toolchain.ArtifactsFor(dir, webTarget(t), "release", "yaw")
	testutil.WriteFile(t, stale.Loader, "// from an earlier build")
	testutil.WriteFile(t, stale.Payload, "\x00asm\x01\x00\x00\x00")

	r := &recordRunner{output: "    Finished release\n"}
	c := &toolchain.Compiler{
		Name:        "cargo",
		ProjectDir:  dir,
		ProjectName: "yaw",
		Target:      webTarget(t),
		Profile:     "release",
		Runner:      r,
		Output:      io.Discard,
	}
	_, err := c.Compile(context.Background())
	var compErr *toolchain.CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
	if !strings.Contains(compErr.Diagnostics, "toolchain produced no") {
		t.Errorf("Diagnostics = %q", compErr.Diagnostics)
	}
	if _, err := os.Stat(stale.Payload); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale payload was left in the target directory")
	}
}

func TestCompileRejectsInvalidFlagsBeforeRunning(t *testing.T) {
	t.Parallel()

	r := &recordRunner{}
	c := &toolchain.Compiler{
		Name:   "cargo",
		Target: webTarget(t),
		Flags:  toolchain.FlagSet{GraphicsPort: true},
		Runner: r,
		Output: io.Discard,
	}
	_, err := c.Compile(context.Background())
	if !errors.Is(err, toolchain.ErrIncompatibleFlags) {
		t.Fatalf("expected ErrIncompatibleFlags, got %v", err)
	}
	if r.got.Name != "" {
		t.Error("compiler should not run with invalid flags")
	}
}
