// Package testutil builds release fixtures for tests: a small game project
// laid out like the real one, and a mock compiler the test binary can
// become when re-executed.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yawgame/webrelease/internal/toolchain/mock"
)

// MockCompilerEnv marks a re-executed test binary that should act as the
// compiler.
const MockCompilerEnv = "YAW_TEST_MOCK_CARGO"

// Main is a TestMain body. A child started with MockCompilerEnv set runs
// the mock compiler in its working directory and exits; otherwise the
// variable is set (so children inherit it) and the tests run.
//
//	func TestMain(m *testing.M) { testutil.Main(m) }
func Main(m *testing.M) {
	if os.Getenv(MockCompilerEnv) == "1" {
		dir, _ := os.Getwd()
		os.Exit(mock.Run(os.Args[1:], dir, os.Getenv, os.Stdout, os.Stderr))
	}
	os.Setenv(MockCompilerEnv, "1")
	os.Exit(m.Run())
}

// Compiler returns the path of the running test binary, for use as the
// compiler command together with Main.
func Compiler(t testing.TB) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return exe
}

// WriteFile writes content at path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// WriteTree writes files (slash-separated paths relative to dir).
func WriteTree(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
	}
}

// ProjectFiles is the fixture project: a crate named "yaw" with a shell
// document, one image and one map.
var ProjectFiles = map[string]string{
	"Cargo.toml":      "[package]\nname = \"yaw\"\nversion = \"0.1.0\"\n",
	"src/main.rs":     "fn main() {}\n",
	"index.html":      "<html><body><canvas id=canvas></canvas><script src=yaw.js></script></body></html>",
	"images/logo.png": "\x89PNG logo",
	"map/map.yaw":     "!!!!MAIN\n#,1,wall.png\n\n###\n#S#\n###\n",
}

// NewProject writes ProjectFiles into a fresh temp dir and returns it.
func NewProject(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	WriteTree(t, dir, ProjectFiles)
	return dir
}
