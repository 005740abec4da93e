package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemError reports a reset or copy failure: permission denial, a
// missing source, exhaustion, or a path that cannot be removed.
type FilesystemError struct {
	Op   string // reset, copy, check
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ErrEmpty is returned by RequireDir for a directory with no files.
var ErrEmpty = errors.New("directory is empty")

var errStop = errors.New("stop walk")

// Reset removes everything at dir and recreates it as an empty directory.
// A missing dir is not an error. root is a directory that must survive the
// reset (normally the project root): dir may not be root or one of its
// ancestors. sources must survive too, and dir may not overlap any of them
// in either direction.
func Reset(dir, root string, sources ...string) error {
	if err := CheckReset(dir, root, sources...); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return &FilesystemError{Op: "reset", Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FilesystemError{Op: "reset", Path: dir, Err: err}
	}
	return nil
}

// CheckReset returns the error Reset would refuse dir with, without touching
// the filesystem.
func CheckReset(dir, root string, sources ...string) error {
	if err := checkResettable(dir, root, sources); err != nil {
		return &FilesystemError{Op: "reset", Path: dir, Err: err}
	}
	return nil
}

func checkResettable(dir, root string, sources []string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return errors.New("refusing to reset filesystem root")
	}
	if root != "" {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if samePath(abs, absRoot) || isAncestor(abs, absRoot) {
			return fmt.Errorf("refusing to reset %s: it contains the project directory", abs)
		}
	}
	for _, src := range sources {
		absSrc, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		if samePath(abs, absSrc) || isAncestor(abs, absSrc) || isAncestor(absSrc, abs) {
			return fmt.Errorf("refusing to reset %s: it overlaps source %s", abs, absSrc)
		}
	}
	return nil
}

// isAncestor reports whether parent strictly contains child.
func isAncestor(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// samePath returns true if a and b resolve to the same filesystem path.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	// Try to resolve symlinks; fall back to cleaned absolute paths.
	realA, err := filepath.EvalSymlinks(absA)
	if err != nil {
		realA = absA
	}
	realB, err := filepath.EvalSymlinks(absB)
	if err != nil {
		realB = absB
	}
	return realA == realB
}

// RequireDir checks that dir exists, is a directory and holds at least one
// regular file somewhere below it, symlinks included.
func RequireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &FilesystemError{Op: "check", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &FilesystemError{Op: "check", Path: dir, Err: errors.New("not a directory")}
	}
	found := false
	err = WalkFiles(dir, func(string, string) error {
		found = true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return &FilesystemError{Op: "check", Path: dir, Err: err}
	}
	if !found {
		return &FilesystemError{Op: "check", Path: dir, Err: ErrEmpty}
	}
	return nil
}

// RequireFile checks that path exists and is a regular file.
func RequireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &FilesystemError{Op: "check", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &FilesystemError{Op: "check", Path: path, Err: errors.New("not a regular file")}
	}
	return nil
}

// CopyFile copies src to dst, keeping the permission bits of src.
func CopyFile(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return &FilesystemError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyDir copies all files from src to dst recursively, creating dst.
// Symlinks are followed and their targets copied as plain files and
// directories.
func CopyDir(src, dst string) error {
	err := os.MkdirAll(dst, 0o755)
	if err == nil {
		err = WalkFiles(src, func(path, rel string) error {
			target := filepath.Join(dst, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return copyFile(path, target)
		})
	}
	if err != nil {
		return &FilesystemError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

// WalkFiles calls fn for every regular file below root in lexical order,
// following symlinks to files and directories. rel is the slash-separated
// path under root. Other file types are skipped. A link back into a
// directory already being walked is an error.
func WalkFiles(root string, fn func(path, rel string) error) error {
	return walkFiles(root, "", make(map[string]bool), fn)
}

func walkFiles(dir, rel string, active map[string]bool, fn func(path, rel string) error) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if active[real] {
		return fmt.Errorf("%s: symlink cycle", dir)
	}
	active[real] = true
	defer delete(active, real)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		r := path.Join(rel, e.Name())
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			err = walkFiles(p, r, active, fn)
		case info.Mode().IsRegular():
			err = fn(p, r)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// List returns the slash-separated paths of every regular file under dir,
// sorted.
func List(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
