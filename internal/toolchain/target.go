package toolchain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultTarget is the browser target: 32-bit WebAssembly hosted by the
// Emscripten runtime.
const DefaultTarget = "wasm32-unknown-emscripten"

// Target is a parsed target triple (arch-vendor-os[-env]).
type Target struct {
	Arch   string
	Vendor string
	OS     string
	Env    string
}

// ParseTarget splits a target triple. At least arch, vendor and os are
// required.
func ParseTarget(s string) (Target, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) < 3 || len(parts) > 4 {
		return Target{}, fmt.Errorf("invalid target triple %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return Target{}, fmt.Errorf("invalid target triple %q", s)
		}
	}
	t := Target{Arch: parts[0], Vendor: parts[1], OS: parts[2]}
	if len(parts) == 4 {
		t.Env = parts[3]
	}
	return t, nil
}

func (t Target) String() string {
	s := t.Arch + "-" + t.Vendor + "-" + t.OS
	if t.Env != "" {
		s += "-" + t.Env
	}
	return s
}

// IsEmscripten reports whether the target is built by the Emscripten
// toolchain, the only one that reads the flag set.
func (t Target) IsEmscripten() bool {
	return t.OS == "emscripten" || t.Env == "emscripten"
}

// Artifacts are the two files produced by a successful compile.
type Artifacts struct {
	Loader  string // <name>.js
	Payload string // <name>.wasm
}

// ArtifactDir returns where cargo places final outputs for the given target
// and profile.
func ArtifactDir(projectDir string, t Target, profile string) string {
	return filepath.Join(projectDir, "target", t.String(), profileDir(profile))
}

// ArtifactsFor returns the artifact paths for a project name.
func ArtifactsFor(projectDir string, t Target, profile, name string) Artifacts {
	dir := ArtifactDir(projectDir, t, profile)
	return Artifacts{
		Loader:  filepath.Join(dir, name+".js"),
		Payload: filepath.Join(dir, name+".wasm"),
	}
}

// profileArgs maps a profile name to cargo arguments.
func profileArgs(profile string) []string {
	switch profile {
	case "", "dev", "debug":
		return nil
	case "release":
		return []string{"--release"}
	default:
		return []string{"--profile", profile}
	}
}

func profileDir(profile string) string {
	switch profile {
	case "", "dev", "debug":
		return "debug"
	default:
		return profile
	}
}
