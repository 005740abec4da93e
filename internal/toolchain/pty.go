package toolchain

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// PTYRunner runs the compiler attached to a pseudo-terminal so it emits the
// same coloured, progress-bar output it would in an interactive shell.
// stdout and stderr arrive interleaved on the one terminal stream. The
// terminal's CRLF line endings are turned back into LF; colour escapes are
// passed through as the compiler wrote them.
type PTYRunner struct{}

func (PTYRunner) Run(ctx context.Context, inv Invocation, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	// Pin the terminal type so colour output does not depend on the caller.
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	slog.Debug("toolchain exec (pty)", "name", inv.Name, "args", inv.Args, "dir", inv.Dir)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, err
	}
	defer ptmx.Close()

	// Reading the master side fails with EIO once the child closes the
	// terminal; that is the normal end of output on Linux.
	nw := &newlineWriter{w: out}
	if _, err := io.Copy(nw, ptmx); err != nil && !isPTYClosed(err) {
		slog.Warn("toolchain pty read", "err", err)
	}
	if err := nw.Flush(); err != nil {
		slog.Warn("toolchain pty output", "err", err)
	}

	return exitStatus(cmd.Wait())
}

func isPTYClosed(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.EIO)
	}
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// newlineWriter rewrites "\r\n" as "\n". A '\r' ending one write is held
// until the next write shows what follows it.
type newlineWriter struct {
	w  io.Writer
	cr bool
}

func (nw *newlineWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+1)
	for _, b := range p {
		if nw.cr && b != '\n' {
			buf = append(buf, '\r')
		}
		nw.cr = b == '\r'
		if !nw.cr {
			buf = append(buf, b)
		}
	}
	if _, err := nw.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes a held '\r'.
func (nw *newlineWriter) Flush() error {
	if !nw.cr {
		return nil
	}
	nw.cr = false
	_, err := nw.w.Write([]byte{'\r'})
	return err
}
