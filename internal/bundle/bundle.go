package bundle

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/yawgame/webrelease/internal/toolchain"
	"github.com/yawgame/webrelease/internal/workspace"
)

// Bundler assembles the output directory after a successful compile.
// The map directory is deliberately absent: it travels inside the payload.
type Bundler struct {
	ShellDoc  string // copied to OutDir/<base name>
	ImagesDir string // copied recursively to OutDir/<base name>
	OutDir    string
}

// Preflight checks that every source exists and is non-empty. It runs
// before the compile so a broken asset tree fails fast.
func (b *Bundler) Preflight() error {
	if err := workspace.RequireFile(b.ShellDoc); err != nil {
		return err
	}
	return workspace.RequireDir(b.ImagesDir)
}

// Bundle copies the shell document, the image tree and both build artifacts
// into OutDir. OutDir is expected to have just been reset, so there is
// nothing to merge with.
func (b *Bundler) Bundle(art toolchain.Artifacts) error {
	if err := b.Preflight(); err != nil {
		return err
	}

	copies := []struct{ src, dst string }{
		{b.ShellDoc, filepath.Join(b.OutDir, filepath.Base(b.ShellDoc))},
		{art.Loader, filepath.Join(b.OutDir, filepath.Base(art.Loader))},
		{art.Payload, filepath.Join(b.OutDir, filepath.Base(art.Payload))},
	}
	for _, c := range copies {
		if err := workspace.CopyFile(c.src, c.dst); err != nil {
			return err
		}
	}
	if err := workspace.CopyDir(b.ImagesDir, filepath.Join(b.OutDir, filepath.Base(b.ImagesDir))); err != nil {
		return err
	}

	slog.Info("bundled", "out", b.OutDir, "shell", filepath.Base(b.ShellDoc), "images", filepath.Base(b.ImagesDir))
	return nil
}

// Digest returns the BLAKE2b-256 of every file under dir, keyed by
// slash-separated relative path.
func Digest(dir string) (map[string]string, error) {
	files, err := workspace.List(dir)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string, len(files))
	for _, rel := range files {
		sum, err := digestFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		sums[rel] = sum
	}
	return sums, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
