// Command mock-cargo stands in for `cargo` when emsdk is not installed. It
// understands only `build --target <triple> [--release|--profile <name>]`
// and writes <name>.js and <name>.wasm where cargo would.
//
// Usage:
//
//	YAW_COMPILER=mock-cargo webrelease
//	MOCK_CARGO_FAIL=1 YAW_COMPILER=mock-cargo webrelease   # simulate a link error
package main

import (
	"os"

	"github.com/yawgame/webrelease/internal/toolchain/mock"
)

func main() {
	dir, err := os.Getwd()
	if err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
	os.Exit(mock.Run(os.Args[1:], dir, os.Getenv, os.Stdout, os.Stderr))
}
