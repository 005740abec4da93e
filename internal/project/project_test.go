package project

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/yawgame/webrelease/internal/config"
	"github.com/yawgame/webrelease/internal/workspace"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const cargoToml = `[package]
name = "yaw"
version = "0.1.0"
edition = "2021"

[dependencies]
anyhow = "1"
sdl2 = { version = "0.36", features = ["ttf", "image"] }
`

func TestCargoName(t *testing.T) {
	t.Parallel()

	t.Run("package", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)
		name, err := CargoName(dir)
		if err != nil {
			t.Fatal(err)
		}
		if name != "yaw" {
			t.Errorf("name = %q", name)
		}
	})

	t.Run("single bin wins", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, CargoFileName), cargoToml+"\n[[bin]]\nname = \"yaw-web\"\npath = \"src/main.rs\"\n")
		name, err := CargoName(dir)
		if err != nil {
			t.Fatal(err)
		}
		if name != "yaw-web" {
			t.Errorf("name = %q", name)
		}
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		if _, err := CargoName(t.TempDir()); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("no name", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, CargoFileName), "[workspace]\nmembers = []\n")
		if _, err := CargoName(dir); err == nil {
			t.Error("expected error")
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)

	p, err := Load(&config.Config{ProjectDir: dir, Manifest: "webrelease.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "yaw" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Target.String() != "wasm32-unknown-emscripten" {
		t.Errorf("Target = %s", p.Target)
	}
	if p.Profile != "release" {
		t.Errorf("Profile = %q", p.Profile)
	}
	if p.OutDir != filepath.Join(dir, "dist") {
		t.Errorf("OutDir = %q", p.OutDir)
	}
	if p.ShellDoc != filepath.Join(dir, "index.html") || p.MapDir != filepath.Join(dir, "map") {
		t.Errorf("paths = %q, %q", p.ShellDoc, p.MapDir)
	}
	if !p.Flags.IsZero() {
		t.Errorf("Flags = %q, want toolchain defaults", p.Flags.String())
	}
	if p.ManifestPath != "" {
		t.Errorf("ManifestPath = %q", p.ManifestPath)
	}
}

func TestLoadManifestAndEnvFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)
	writeFile(t, filepath.Join(dir, "webrelease.yaml"), `name: yaw
out: public
shell: web/index.html
flags:
  graphics_port: true
  async_control_transfer: true
  embed: [map]
`)

	p, err := Load(&config.Config{
		ProjectDir: dir,
		Manifest:   "webrelease.yaml",
		Profile:    "dev",
		CFlags:     "-s ALLOW_MEMORY_GROWTH=1 --embed-file map",
		CFlagsSet:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.OutDir != filepath.Join(dir, "public") {
		t.Errorf("OutDir = %q", p.OutDir)
	}
	if p.ShellDoc != filepath.Join(dir, "web", "index.html") {
		t.Errorf("ShellDoc = %q", p.ShellDoc)
	}
	if p.Profile != "dev" {
		t.Errorf("Profile = %q", p.Profile)
	}
	if !p.Flags.GraphicsPort || !p.Flags.AsyncControlTransfer || !p.Flags.DynamicMemoryGrowth {
		t.Errorf("Flags = %q", p.Flags.String())
	}
	if !slices.Equal(p.Flags.EmbedDirs, []string{"map"}) {
		t.Errorf("EmbedDirs = %v", p.Flags.EmbedDirs)
	}
	if !p.MapEmbedded() {
		t.Error("map directory should be embedded")
	}
	if p.ManifestPath == "" {
		t.Error("ManifestPath should be set")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
		cfg      config.Config
	}{
		{"bad target", "", config.Config{Target: "wasm32"}},
		{"bad yaml", "flags: [", config.Config{}},
		{"dangling embed flag", "", config.Config{CFlags: "--embed-file", CFlagsSet: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)
			if tt.manifest != "" {
				writeFile(t, filepath.Join(dir, "webrelease.yaml"), tt.manifest)
			}
			cfg := tt.cfg
			cfg.ProjectDir = dir
			cfg.Manifest = "webrelease.yaml"
			if _, err := Load(&cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRejectsOutDirOverSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
	}{
		{"crate sources", "src"},
		{"images", "images"},
		{"inside map", "map/out"},
		{"shell document", "index.html"},
		{"build directory", "target"},
		{"manifest", "webrelease.yaml"},
		{"embedded path", "levels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)
			writeFile(t, filepath.Join(dir, "webrelease.yaml"), "name: yaw\n")
			_, err := Load(&config.Config{
				ProjectDir: dir,
				Manifest:   "webrelease.yaml",
				OutDir:     tt.out,
				CFlags:     "--embed-file levels",
				CFlagsSet:  true,
			})
			var fsErr *workspace.FilesystemError
			if !errors.As(err, &fsErr) || fsErr.Op != "reset" {
				t.Errorf("OutDir %q: expected reset FilesystemError, got %v", tt.out, err)
			}
		})
	}
}

func TestMapMount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, CargoFileName), cargoToml)

	tests := []struct {
		flags string
		mount string
		ok    bool
	}{
		{"--embed-file map", "map", true},
		{"--embed-file map/@/data", "data", true},
		{"--embed-file map@/", ".", true},
		{"--embed-file levels", "", false},
	}
	for _, tt := range tests {
		p, err := Load(&config.Config{ProjectDir: dir, Manifest: "webrelease.yaml", CFlags: tt.flags, CFlagsSet: true})
		if err != nil {
			t.Fatal(err)
		}
		mount, ok := p.MapMount()
		if mount != tt.mount || ok != tt.ok {
			t.Errorf("%s: MapMount = %q, %v; want %q, %v", tt.flags, mount, ok, tt.mount, tt.ok)
		}
	}
}
