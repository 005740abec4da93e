package toolchain

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		emscripten bool
		ok         bool
	}{
		{"wasm32-unknown-emscripten", true, true},
		{"x86_64-unknown-linux-gnu", false, true},
		{"wasm32-unknown-unknown", false, true},
		{"wasm32", false, false},
		{"wasm32--emscripten", false, false},
		{"a-b-c-d-e", false, false},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseTarget(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
		if got.IsEmscripten() != tt.emscripten {
			t.Errorf("%s: IsEmscripten = %v", tt.in, got.IsEmscripten())
		}
	}
}

func TestArtifactsFor(t *testing.T) {
	t.Parallel()

	target, _ := ParseTarget(DefaultTarget)
	art := ArtifactsFor("/src/yaw", target, "release", "yaw")
	dir := filepath.Join("/src/yaw", "target", "wasm32-unknown-emscripten", "release")
	if art.Loader != filepath.Join(dir, "yaw.js") {
		t.Errorf("Loader = %q", art.Loader)
	}
	if art.Payload != filepath.Join(dir, "yaw.wasm") {
		t.Errorf("Payload = %q", art.Payload)
	}

	if got := ArtifactDir("/p", target, "dev"); got != filepath.Join("/p", "target", DefaultTarget, "debug") {
		t.Errorf("dev ArtifactDir = %q", got)
	}
}

func TestProfileArgs(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"":        nil,
		"dev":     nil,
		"release": {"--release"},
		"web":     {"--profile", "web"},
	}
	for profile, want := range tests {
		if got := profileArgs(profile); !slices.Equal(got, want) {
			t.Errorf("profileArgs(%q) = %v, want %v", profile, got, want)
		}
	}
}
