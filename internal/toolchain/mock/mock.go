// Package mock is a stand-in for `cargo build` targeting Emscripten. It
// produces the same two artifacts at the same paths, with a tiny valid
// WebAssembly payload whose custom section carries the embedded files, so
// the release pipeline can be exercised without emsdk installed.
package mock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yawgame/webrelease/internal/project"
	"github.com/yawgame/webrelease/internal/toolchain"
	"github.com/yawgame/webrelease/internal/vfs"
)

// FailEnv makes the mock fail like a broken link step. Its value is printed
// as the diagnostic ("1" selects the default message).
const FailEnv = "MOCK_CARGO_FAIL"

const defaultFailure = "undefined reference to `SDL_Init'"

// FlagsSection is the custom section recording the flag string the mock saw.
const FlagsSection = "yaw.flags"

// Run emulates `cargo build --target T [--release|--profile P]` in dir and
// returns the process exit code.
func Run(args []string, dir string, getenv func(string) string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	if msg := getenv(FailEnv); msg != "" {
		if msg == "1" {
			msg = defaultFailure
		}
		fmt.Fprintf(stderr, "error: linking with `emcc` failed: exit status: 1\n  = note: wasm-ld: error: %s\n", msg)
		return 1
	}

	name, err := project.CargoName(dir)
	if err != nil {
		fmt.Fprintf(stderr, "error: could not find `Cargo.toml` in `%s`: %v\n", dir, err)
		return 101
	}
	target, err := toolchain.ParseTarget(opts.target)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 101
	}
	flags, err := toolchain.ParseFlags(getenv(toolchain.FlagsEnv))
	if err != nil {
		fmt.Fprintf(stderr, "error: %s: %v\n", toolchain.FlagsEnv, err)
		return 1
	}

	fmt.Fprintf(stderr, "   Compiling %s v0.1.0 (%s)\n", name, dir)

	payload := append([]byte(nil), vfs.Header...)
	payload = vfs.AppendCustomSection(payload, FlagsSection, []byte(flags.String()))
	if embeds := flags.EmbedMounts(); len(embeds) > 0 {
		mounts := make([]vfs.Mount, len(embeds))
		for i, m := range embeds {
			mounts[i] = vfs.Mount{Src: m.Src, Dst: m.Dst}
		}
		archive, err := vfs.Pack(dir, mounts)
		if err != nil {
			fmt.Fprintf(stderr, "emcc: error: %v\n", err)
			return 1
		}
		payload = vfs.AppendCustomSection(payload, vfs.SectionName, archive)
	}

	art := toolchain.ArtifactsFor(dir, target, opts.profile, name)
	if err := os.MkdirAll(filepath.Dir(art.Payload), 0o755); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(art.Payload, payload, 0o644); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(art.Loader, []byte(loaderScript(name)), 0o644); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stderr, "    Finished `%s` profile target(s)\n", opts.profile)
	fmt.Fprintln(stdout, art.Payload)
	return 0
}

type options struct {
	target  string
	profile string
}

func parseArgs(args []string) (options, error) {
	if len(args) == 0 || args[0] != "build" {
		return options{}, errors.New("only `build` is supported")
	}
	opts := options{target: toolchain.DefaultTarget, profile: "debug"}
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--release":
			opts.profile = "release"
		case "--target", "--profile":
			if i+1 >= len(args) {
				return options{}, fmt.Errorf("%s requires a value", args[i])
			}
			if args[i] == "--target" {
				opts.target = args[i+1]
			} else {
				opts.profile = args[i+1]
			}
			i++
		default:
			return options{}, fmt.Errorf("unexpected argument %q", args[i])
		}
	}
	return opts, nil
}

func loaderScript(name string) string {
	return fmt.Sprintf(`// %[1]s loader (mock toolchain)
var Module = typeof Module !== "undefined" ? Module : {};
WebAssembly.instantiateStreaming(fetch("%[1]s.wasm"), {}).then(function (r) {
  Module.instance = r.instance;
  if (Module.onRuntimeInitialized) Module.onRuntimeInitialized();
});
`, name)
}
