// Package pipeline sequences a web release: reset the output directory,
// cross-compile, bundle the assets next to the artifacts, then serve the
// result locally. Each stage runs only after the previous one succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yawgame/webrelease/internal/bundle"
	"github.com/yawgame/webrelease/internal/payload"
	"github.com/yawgame/webrelease/internal/project"
	"github.com/yawgame/webrelease/internal/server"
	"github.com/yawgame/webrelease/internal/toolchain"
	"github.com/yawgame/webrelease/internal/watch"
	"github.com/yawgame/webrelease/internal/workspace"
)

type Stage int

const (
	StageInit Stage = iota
	StageReset
	StageCompile
	StageBundle
	StageServe
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageReset:
		return "reset"
	case StageCompile:
		return "compile"
	case StageBundle:
		return "bundle"
	case StageServe:
		return "serve"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError records which stage failed. Err is one of the typed errors of
// the stage's package.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result describes a completed build.
type Result struct {
	OutDir    string
	Artifacts toolchain.Artifacts // copies inside OutDir
	Files     []string            // OutDir contents, slash-separated and sorted
	Digests   map[string]string
}

type Pipeline struct {
	Project  *project.Project
	Compiler *toolchain.Compiler
	Server   *server.Server // nil: stop after bundling
	Watch    bool

	mu    sync.Mutex
	stage Stage
	build sync.Mutex
}

// New wires a pipeline for p. runner executes the compiler; addr is the
// server listen address, or "" to skip serving.
func New(p *project.Project, compilerName string, runner toolchain.Runner, addr string, watchSources bool) *Pipeline {
	pl := &Pipeline{
		Project: p,
		Compiler: &toolchain.Compiler{
			Name:        compilerName,
			ProjectDir:  p.Dir,
			ProjectName: p.Name,
			Target:      p.Target,
			Profile:     p.Profile,
			Flags:       p.Flags,
			Runner:      runner,
		},
		Watch: watchSources,
	}
	if addr != "" {
		pl.Server = &server.Server{Root: p.OutDir, Addr: addr}
		if watchSources {
			pl.Server.Reload = server.NewHub()
		}
	}
	return pl
}

// Stage returns the stage currently running, or the last one reached.
func (pl *Pipeline) Stage() Stage {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.stage
}

func (pl *Pipeline) setStage(s Stage) {
	pl.mu.Lock()
	pl.stage = s
	pl.mu.Unlock()
	slog.Debug("pipeline stage", "stage", s.String())
}

func (pl *Pipeline) fail(s Stage, err error) error {
	pl.setStage(StageFailed)
	return &StageError{Stage: s, Err: err}
}

func (pl *Pipeline) bundler() *bundle.Bundler {
	return &bundle.Bundler{
		ShellDoc:  pl.Project.ShellDoc,
		ImagesDir: pl.Project.ImagesDir,
		OutDir:    pl.Project.OutDir,
	}
}

// Build runs Reset, Compile and Bundle once. Partial output left by a
// failed stage is not rolled back.
func (pl *Pipeline) Build(ctx context.Context) (*Result, error) {
	pl.build.Lock()
	defer pl.build.Unlock()

	p := pl.Project

	pl.setStage(StageReset)
	if err := workspace.Reset(p.OutDir, p.Dir, p.Sources()...); err != nil {
		return nil, pl.fail(StageReset, err)
	}

	// Asset sources are checked up front so a broken tree fails before a
	// long compile.
	b := pl.bundler()
	if err := b.Preflight(); err != nil {
		return nil, pl.fail(StageBundle, err)
	}
	if err := pl.checkEmbedSources(); err != nil {
		return nil, pl.fail(StageCompile, err)
	}

	pl.setStage(StageCompile)
	art, err := pl.Compiler.Compile(ctx)
	if err != nil {
		return nil, pl.fail(StageCompile, err)
	}

	pl.setStage(StageBundle)
	if err := b.Bundle(art); err != nil {
		return nil, pl.fail(StageBundle, err)
	}

	res := &Result{
		OutDir: p.OutDir,
		Artifacts: toolchain.Artifacts{
			Loader:  filepath.Join(p.OutDir, filepath.Base(art.Loader)),
			Payload: filepath.Join(p.OutDir, filepath.Base(art.Payload)),
		},
	}
	if err := pl.verifyPayload(ctx, res.Artifacts.Payload); err != nil {
		return nil, pl.fail(StageBundle, err)
	}

	if res.Files, err = workspace.List(p.OutDir); err != nil {
		return nil, pl.fail(StageBundle, err)
	}
	if res.Digests, err = bundle.Digest(p.OutDir); err != nil {
		return nil, pl.fail(StageBundle, err)
	}
	for _, f := range res.Files {
		slog.Debug("output file", "path", f, "blake2b", res.Digests[f])
	}
	slog.Info("build complete", "out", p.OutDir, "files", len(res.Files))
	return res, nil
}

// checkEmbedSources requires the map directory to hold at least one file
// and every embedded path to exist.
func (pl *Pipeline) checkEmbedSources() error {
	p := pl.Project
	if err := workspace.RequireDir(p.MapDir); err != nil {
		return err
	}
	if !p.MapEmbedded() {
		slog.Warn("map directory is not embedded; the program will not find its maps", "map", p.MapDir)
	}
	for _, src := range p.Flags.EmbedSources() {
		path := src
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Dir, path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return &workspace.FilesystemError{Op: "embed", Path: path, Err: err}
		}
		if info.IsDir() {
			if err := workspace.RequireDir(path); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyPayload decodes the bundled payload and, when it carries an
// embedded filesystem, checks the map files made it in unchanged.
func (pl *Pipeline) verifyPayload(ctx context.Context, path string) error {
	info, err := payload.InspectFile(ctx, path)
	if err != nil {
		return err
	}
	slog.Info("payload ok", "imports", info.Imports, "exports", info.Exports, "sections", info.Sections)

	fsys, err := info.Embedded()
	if err != nil {
		return err
	}
	if fsys == nil {
		slog.Info("payload has no inspectable embedded filesystem; skipping map verification")
		return nil
	}
	p := pl.Project
	mount, ok := p.MapMount()
	if !ok {
		return nil
	}
	if err := payload.VerifyEmbedded(fsys, p.MapDir, mount); err != nil {
		return err
	}
	slog.Info("embedded map verified", "map", p.MapDir, "mount", mount)
	return nil
}

// Run builds once and then serves until ctx is cancelled. The server is
// never started after a failed build. With Watch set, source changes
// trigger full rebuilds followed by a browser reload.
func (pl *Pipeline) Run(ctx context.Context) error {
	pl.setStage(StageInit)
	if _, err := pl.Build(ctx); err != nil {
		return err
	}
	if pl.Server == nil {
		return nil
	}

	pl.setStage(StageServe)
	ln, err := pl.Server.Listen()
	if err != nil {
		return pl.fail(StageServe, err)
	}

	if pl.Watch {
		if err := pl.startWatch(ctx); err != nil {
			ln.Close()
			return pl.fail(StageServe, err)
		}
	}

	if err := pl.Server.Serve(ctx, ln); err != nil {
		return pl.fail(StageServe, err)
	}
	return nil
}

func (pl *Pipeline) startWatch(ctx context.Context) error {
	p := pl.Project
	opts := watch.Options{
		Files:  []string{p.ShellDoc, filepath.Join(p.Dir, project.CargoFileName)},
		Ignore: []string{filepath.Join(p.Dir, "target"), p.OutDir},
	}
	if p.ManifestPath != "" {
		opts.Files = append(opts.Files, p.ManifestPath)
	}
	for _, dir := range []string{filepath.Join(p.Dir, "src"), p.MapDir, p.ImagesDir} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			opts.Dirs = append(opts.Dirs, dir)
		}
	}

	rebuild := make(chan struct{}, 1)
	err := watch.Start(ctx, opts, func([]string) {
		select {
		case rebuild <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rebuild:
			}
			slog.Info("sources changed, rebuilding")
			_, err := pl.Build(ctx)
			pl.setStage(StageServe)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("rebuild failed", "err", err)
				}
				continue
			}
			if pl.Server.Reload != nil {
				pl.Server.Reload.Broadcast("reload")
			}
		}
	}()
	return nil
}

// ExitCode maps a pipeline error to the process exit status: the
// compiler's own status for compilation failures, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *toolchain.CompilationError
	if errors.As(err, &ce) && ce.ExitCode > 0 && ce.ExitCode < 256 {
		return ce.ExitCode
	}
	return 1
}
