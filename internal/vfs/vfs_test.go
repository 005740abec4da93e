package vfs

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

var mapMount = []Mount{{Src: "map", Dst: "map"}}

func TestPackOpenRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := map[string]string{
		"map/map.yaw":           "!!!!META\nfog,dof=4,color=#101010\n\n!!!!MAIN\n",
		"map/textures/w.png":    "\x89PNG wall",
		"images/not-packed.png": "skip",
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	data, err := Pack(root, mapMount)
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := Open(data)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"map/map.yaw", "map/textures/w.png"} {
		got, err := fs.ReadFile(fsys, name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if string(got) != files[name] {
			t.Errorf("%s: got %q", name, got)
		}
	}
	if _, err := fs.Stat(fsys, "images/not-packed.png"); err == nil {
		t.Error("images/ should not be packed")
	}
}

func TestPackDeterministic(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "map"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "map", "b.yaw"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(root, "map", "a.yaw"), []byte("a"), 0o644)

	first, err := Pack(root, mapMount)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Pack(root, mapMount)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("packing the same tree twice should be byte-identical")
	}
}

func TestPackMissingDir(t *testing.T) {
	t.Parallel()

	if _, err := Pack(t.TempDir(), mapMount); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPackMountDestinations(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	for p, content := range map[string]string{
		filepath.Join(root, "map", "map.yaw"):         "!!!!MAIN\n",
		filepath.Join(outside, "levels", "two.yaw"):   "!!!!MAIN\n#\n",
		filepath.Join(root, "shared", "textures.txt"): "wall.png",
	} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(filepath.Join(root, "shared", "textures.txt"), filepath.Join(root, "map", "textures.txt")); err != nil {
		t.Fatal(err)
	}

	data, err := Pack(root, []Mount{
		{Src: "map", Dst: "data"},
		{Src: filepath.Join(outside, "levels"), Dst: "levels"},
	})
	if err != nil {
		t.Fatal(err)
	}
	fsys, err := Open(data)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"data/map.yaw", "data/textures.txt", "levels/two.yaw"} {
		if _, err := fs.Stat(fsys, name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, err := fs.Stat(fsys, "map/map.yaw"); err == nil {
		t.Error("map/ should be mounted at data/, not at its source path")
	}
}

func TestPackRejectsCollidingMounts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, dir := range []string{"a", "b"} {
		p := filepath.Join(root, dir, "map.yaw")
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(dir), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Pack(root, []Mount{{Src: "a", Dst: "map"}, {Src: "b", Dst: "map"}}); err == nil {
		t.Error("expected error for two files at map/map.yaw")
	}
}

func TestAppendCustomSection(t *testing.T) {
	t.Parallel()

	mod := AppendCustomSection(append([]byte(nil), Header...), "x", []byte{1, 2, 3})
	want := append(append([]byte(nil), Header...), 0x00, 0x05, 0x01, 'x', 1, 2, 3)
	if !bytes.Equal(mod, want) {
		t.Errorf("got % x\nwant % x", mod, want)
	}
}

func TestULEB128(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		if got := appendULEB128(nil, tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("appendULEB128(%d) = % x, want % x", tt.in, got, tt.want)
		}
	}
}
