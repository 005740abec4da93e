package pipeline

import (
	"io"
	"log/slog"

	"github.com/yawgame/webrelease/internal/config"
	"github.com/yawgame/webrelease/internal/toolchain"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewRunner picks how the compiler is executed: inside a container when a
// toolchain image is configured, under a pseudo-terminal when requested,
// else as a plain child process. The closer releases the runner's
// resources.
func NewRunner(cfg *config.Config) (toolchain.Runner, io.Closer, error) {
	switch {
	case cfg.ToolchainImage != "":
		d, err := toolchain.NewDockerRunner(cfg.ToolchainImage)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("compiling in container", "image", cfg.ToolchainImage)
		return d, d, nil
	case cfg.TTY:
		return toolchain.PTYRunner{}, nopCloser{}, nil
	default:
		return toolchain.ExecRunner{}, nopCloser{}, nil
	}
}
