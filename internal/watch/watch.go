package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

// Options selects what to watch. Dirs are watched recursively, Files by
// watching their parent directory so editors that replace files on save
// are still seen.
type Options struct {
	Dirs     []string
	Files    []string
	Ignore   []string
	Debounce time.Duration
}

// Start watches the given sources and calls onChange with the sorted set of
// changed paths once events have been quiet for the debounce interval.
// The watcher stops when ctx is cancelled.
func Start(ctx context.Context, opts Options, onChange func(paths []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	st := &state{
		watcher: watcher,
		files:   make(map[string]bool),
		ignore:  make([]string, 0, len(opts.Ignore)),
	}
	for _, p := range opts.Ignore {
		st.ignore = append(st.ignore, abs(p))
	}

	for _, dir := range opts.Dirs {
		dir = abs(dir)
		st.roots = append(st.roots, dir)
		if err := st.addTree(dir); err != nil {
			watcher.Close()
			return err
		}
	}

	parents := make(map[string]bool)
	for _, f := range opts.Files {
		f = abs(f)
		st.files[f] = true
		parent := filepath.Dir(f)
		if parents[parent] {
			continue
		}
		parents[parent] = true
		if err := watcher.Add(parent); err != nil {
			watcher.Close()
			return err
		}
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	go st.run(ctx, debounce, onChange)

	slog.Info("watching sources", "dirs", len(opts.Dirs), "files", len(opts.Files))
	return nil
}

type state struct {
	watcher *fsnotify.Watcher
	roots   []string
	files   map[string]bool
	ignore  []string
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}

func under(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func (st *state) ignored(path string) bool {
	for _, dir := range st.ignore {
		if under(path, dir) {
			return true
		}
	}
	return false
}

// addTree watches dir and every directory below it.
func (st *state) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if st.ignored(path) {
			return filepath.SkipDir
		}
		return st.watcher.Add(path)
	})
}

func (st *state) relevant(path string) bool {
	if st.ignored(path) {
		return false
	}
	if st.files[path] {
		return true
	}
	for _, root := range st.roots {
		if under(path, root) {
			return true
		}
	}
	return false
}

func (st *state) run(ctx context.Context, debounce time.Duration, onChange func([]string)) {
	defer st.watcher.Close()

	// Coalesce bursts (an editor save, a git checkout) into one callback.
	var mu sync.Mutex
	var timer *time.Timer
	changed := make(map[string]bool)

	trigger := func(path string) {
		mu.Lock()
		defer mu.Unlock()

		changed[path] = true
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			mu.Lock()
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			clear(changed)
			mu.Unlock()

			slices.Sort(paths)
			slog.Debug("sources changed", "paths", paths)
			if onChange != nil {
				onChange(paths)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-st.watcher.Events:
			if !ok {
				return
			}
			if !st.relevant(event.Name) {
				continue
			}

			// New directories under a watched tree need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := st.addTree(event.Name); err != nil {
						slog.Warn("watcher: add new dir", "err", err, "dir", event.Name)
					}
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				trigger(event.Name)
			}

		case err, ok := <-st.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "err", err)
		}
	}
}
