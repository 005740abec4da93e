package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yawgame/webrelease/internal/config"
	"github.com/yawgame/webrelease/internal/pipeline"
	"github.com/yawgame/webrelease/internal/project"
	"github.com/yawgame/webrelease/internal/toolchain"
)

const usage = `usage: webrelease [healthcheck]

Resets the output directory, cross-compiles the project for the web,
bundles the assets next to the artifacts and serves them locally.
Configuration is read from YAW_* environment variables and EMCC_CFLAGS.
`

func main() {
	if len(os.Args) > 1 {
		if os.Args[1] == "healthcheck" {
			os.Exit(healthcheck())
		}
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(run())
}

// healthcheck checks the running server's /healthz and exits without
// touching the workspace.
func healthcheck() int {
	port := "8000"
	if v := os.Getenv("YAW_PORT"); v != "" {
		port = v
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/healthz")
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func run() int {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "webrelease: %v\n", err)
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	proj, err := project.Load(cfg)
	if err != nil {
		slog.Error("load project", "err", err)
		return 1
	}

	slog.Info("starting release",
		"project", proj.Name,
		"dir", proj.Dir,
		"out", proj.OutDir,
		"target", proj.Target.String(),
		"profile", proj.Profile,
	)

	runner, closer, err := pipeline.NewRunner(cfg)
	if err != nil {
		slog.Error("toolchain runner", "err", err)
		return 1
	}
	defer closer.Close()

	addr := cfg.Addr()
	if cfg.NoServe {
		addr = ""
	}
	pl := pipeline.New(proj, cfg.Compiler, runner, addr, cfg.Watch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = pl.Run(ctx)
	if err != nil {
		var ce *toolchain.CompilationError
		if errors.As(err, &ce) {
			// The diagnostics were already streamed live.
			slog.Error("compilation failed", "exit", ce.ExitCode)
		} else {
			slog.Error("release failed", "err", err)
		}
	}
	return pipeline.ExitCode(err)
}
