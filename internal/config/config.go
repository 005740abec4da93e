package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// FlagsEnv carries the toolchain flag set as a whitespace-separated token
// string. It is read by the Emscripten compiler driver itself, so the same
// variable is forwarded to the child process after validation.
const FlagsEnv = "EMCC_CFLAGS"

type Config struct {
	ProjectDir     string
	OutDir         string // empty: manifest "out" or "dist"
	Manifest       string
	Target         string // empty: manifest "target" or the emscripten triple
	Profile        string // empty: manifest "profile" or "release"
	Compiler       string
	Host           string
	Port           int
	LogLevel       slog.Level
	TTY            bool   // Run the compiler under a pseudo-terminal; diagnostics keep its colour escapes
	ToolchainImage string // Run the compiler inside this container image
	Watch          bool   // Rebuild on source changes and live-reload browsers
	NoServe        bool   // Stop after bundling
	CFlags         string
	CFlagsSet      bool // FlagsEnv was present in the environment
}

// Parse reads the configuration from the process environment. The release
// command takes no arguments, so there are no flags to merge.
func Parse() (*Config, error) {
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{
		ProjectDir: ".",
		Manifest:   "webrelease.yaml",
		Compiler:   "cargo",
		Host:       "127.0.0.1",
		Port:       8000,
	}

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if v := get("YAW_PROJECT_DIR"); v != "" {
		cfg.ProjectDir = v
	}
	if v := get("YAW_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := get("YAW_MANIFEST"); v != "" {
		cfg.Manifest = v
	}
	if v := get("YAW_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := get("YAW_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := get("YAW_COMPILER"); v != "" {
		cfg.Compiler = v
	}
	if v := get("YAW_HOST"); v != "" {
		cfg.Host = v
	}
	if v := get("YAW_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 65535 {
			return nil, fmt.Errorf("YAW_PORT: invalid port %q", v)
		}
		cfg.Port = p
	}
	cfg.LogLevel = parseLogLevel(get("YAW_LOG_LEVEL"))
	cfg.TTY = parseBool(get("YAW_TTY"))
	cfg.ToolchainImage = get("YAW_TOOLCHAIN_IMAGE")
	cfg.Watch = parseBool(get("YAW_WATCH"))
	cfg.NoServe = parseBool(get("YAW_NO_SERVE"))

	// Not trimmed: the token string is passed through as given.
	cfg.CFlags, cfg.CFlagsSet = lookup(FlagsEnv)

	if cfg.Watch && cfg.NoServe {
		return nil, fmt.Errorf("YAW_WATCH and YAW_NO_SERVE are mutually exclusive")
	}
	return cfg, nil
}

// Addr returns the listen address for the local server.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
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
