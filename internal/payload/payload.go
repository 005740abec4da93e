// Package payload inspects a compiled WebAssembly payload: it proves the
// module decodes and exposes the embedded virtual filesystem, when the
// toolchain stored one in a custom section.
package payload

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/tetratelabs/wazero"

	"github.com/yawgame/webrelease/internal/vfs"
	"github.com/yawgame/webrelease/internal/workspace"
)

// Info summarises a decoded payload.
type Info struct {
	Imports  int
	Exports  int
	Memories int
	Sections []string // custom section names, in module order

	embedded []byte
}

// Embedded returns the embedded virtual filesystem, or nil when the payload
// carries none.
func (i *Info) Embedded() (fs.FS, error) {
	if i.embedded == nil {
		return nil, nil
	}
	return vfs.Open(i.embedded)
}

// Inspect decodes the module without instantiating it, so unresolved host
// imports (the Emscripten runtime) are fine.
func Inspect(ctx context.Context, wasm []byte) (*Info, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCustomSections(true))
	defer r.Close(ctx)

	mod, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	defer mod.Close(ctx)

	info := &Info{
		Imports:  len(mod.ImportedFunctions()),
		Exports:  len(mod.ExportedFunctions()),
		Memories: len(mod.ExportedMemories()),
	}
	for _, s := range mod.CustomSections() {
		info.Sections = append(info.Sections, s.Name())
		if s.Name() == vfs.SectionName {
			info.embedded = s.Data()
		}
	}
	return info, nil
}

// InspectFile reads and inspects the payload at path.
func InspectFile(ctx context.Context, path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Inspect(ctx, data)
}

// VerifyEmbedded checks that every file under srcDir is present in fsys at
// prefix/<relative path> with identical contents.
func VerifyEmbedded(fsys fs.FS, srcDir, prefix string) error {
	return workspace.WalkFiles(srcDir, func(p, rel string) error {
		name := path.Join(prefix, rel)

		want, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		got, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("embedded %s: %w", name, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("embedded %s: contents differ from %s", name, p)
		}
		return nil
	})
}
