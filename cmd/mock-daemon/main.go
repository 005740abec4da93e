// Command mock-daemon runs a fake Docker daemon on a Unix socket whose
// containers run the mock compiler, for trying the containerised toolchain
// path without Docker or emsdk.
//
// Usage:
//
//	mock-daemon --socket /tmp/yaw-docker/docker.sock --images yawgame/emsdk-rust:3.1 &
//	DOCKER_HOST=unix:///tmp/yaw-docker/docker.sock YAW_TOOLCHAIN_IMAGE=yawgame/emsdk-rust:3.1 webrelease
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yawgame/webrelease/internal/fakedocker"
)

func main() {
	var (
		socketPath string
		images     string
		logLevel   string
	)

	flag.StringVar(&socketPath, "socket", "", "Unix socket path (default: /tmp/yaw-docker-<pid>/docker.sock)")
	flag.StringVar(&images, "images", "", "Comma-separated images present without a pull")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	})))

	if socketPath == "" {
		dir := fmt.Sprintf("/tmp/yaw-docker-%d", os.Getpid())
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("create socket dir", "err", err)
			os.Exit(1)
		}
		socketPath = dir + "/docker.sock"
	}

	var present []string
	for _, img := range strings.Split(images, ",") {
		if img = strings.TrimSpace(img); img != "" {
			present = append(present, img)
		}
	}

	d, err := fakedocker.StartOnSocket(socketPath, present...)
	if err != nil {
		slog.Error("start fake daemon", "err", err)
		os.Exit(1)
	}
	defer func() {
		d.Close()
		os.Remove(socketPath)
	}()

	// Print the host so parent processes can discover it
	fmt.Println(d.Host())

	slog.Info("mock daemon started", "socket", socketPath, "images", present)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("mock daemon shutting down")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
