// Package vfs packs directories into the archive that backs a payload's
// embedded virtual filesystem, and reads it back.
//
// The archive is a zip file whose entry names are the slash-separated
// runtime paths: a directory mounted at "data" exposes its map.yaw as
// data/map.yaw.
package vfs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/yawgame/webrelease/internal/workspace"
)

// SectionName is the WebAssembly custom section holding the archive.
const SectionName = "yaw.vfs"

// Fixed modification time so packing the same tree twice yields identical
// bytes.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Mount places the directory Src at Dst in the archive. A relative Src is
// resolved against the root passed to Pack; Dst is slash-separated and
// relative to the archive root.
type Mount struct {
	Src string
	Dst string
}

type entry struct {
	name string // archive path
	path string // host path
}

// Pack archives every regular file under each mount, following symlinks.
// Two mounts may not place a file at the same name.
func Pack(root string, mounts []Mount) ([]byte, error) {
	var entries []entry
	seen := make(map[string]string)
	for _, m := range mounts {
		base := m.Src
		if !filepath.IsAbs(base) {
			base = filepath.Join(root, filepath.FromSlash(base))
		}
		err := workspace.WalkFiles(base, func(p, rel string) error {
			name := path.Join(m.Dst, rel)
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("%s: also embedded from %s", name, prev)
			}
			seen[name] = p
			entries = append(entries, entry{name: name, path: p})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", m.Src, err)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			zw.Close()
			return nil, fmt.Errorf("pack %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, e entry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: epoch,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Open returns a read-only filesystem over an archive produced by Pack.
func Open(data []byte) (fs.FS, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open vfs archive: %w", err)
	}
	return zr, nil
}
