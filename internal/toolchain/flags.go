package toolchain

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrIncompatibleFlags is wrapped by every FlagSet validation failure.
var ErrIncompatibleFlags = errors.New("incompatible toolchain flags")

// FlagSet is the typed form of the options passed to the Emscripten
// compiler and linker. The zero value means toolchain defaults.
type FlagSet struct {
	GraphicsPort         bool     `yaml:"graphics_port"`
	TextRenderingPort    bool     `yaml:"text_rendering_port"`
	ImagePort            bool     `yaml:"image_port"`
	ImageFormats         []string `yaml:"image_formats"`
	PreloadPlugins       bool     `yaml:"preload_plugins"`
	AsyncControlTransfer bool     `yaml:"async_control_transfer"`
	DynamicMemoryGrowth  bool     `yaml:"dynamic_memory_growth"`
	EmbedDirs            []string `yaml:"embed"`
	Extra                []string `yaml:"extra"` // passed through verbatim
}

// ParseFlags parses a whitespace-separated token string such as the value
// of EMCC_CFLAGS. Settings may be written "-s NAME=V", "-sNAME=V" or
// "-s NAME"; unrecognised tokens are kept in Extra.
func ParseFlags(s string) (FlagSet, error) {
	var fs FlagSet
	tokens := strings.Fields(s)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "-s":
			if i+1 >= len(tokens) {
				return FlagSet{}, errors.New("flag -s: missing setting")
			}
			i++
			if !fs.applySetting(tokens[i]) {
				fs.Extra = append(fs.Extra, tok, tokens[i])
			}
		case len(tok) > 2 && strings.HasPrefix(tok, "-s") && tok[2] >= 'A' && tok[2] <= 'Z':
			if !fs.applySetting(tok[2:]) {
				fs.Extra = append(fs.Extra, tok)
			}
		case tok == "--use-preload-plugins":
			fs.PreloadPlugins = true
		case tok == "--embed-file":
			if i+1 >= len(tokens) {
				return FlagSet{}, errors.New("flag --embed-file: missing path")
			}
			i++
			fs.addEmbed(tokens[i])
		case strings.HasPrefix(tok, "--embed-file="):
			fs.addEmbed(strings.TrimPrefix(tok, "--embed-file="))
		default:
			fs.Extra = append(fs.Extra, tok)
		}
	}
	return fs, nil
}

// applySetting records a known setting and reports whether it was one.
func (fs *FlagSet) applySetting(setting string) bool {
	name, value, hasValue := strings.Cut(setting, "=")
	if !hasValue {
		value = "1"
	}
	value = unquote(value)

	known := true
	switch name {
	case "USE_SDL":
		known = setPort(&fs.GraphicsPort, value)
	case "USE_SDL_TTF":
		known = setPort(&fs.TextRenderingPort, value)
	case "USE_SDL_IMAGE":
		known = setPort(&fs.ImagePort, value)
	case "SDL2_IMAGE_FORMATS":
		fs.ImageFormats = nil
		for _, f := range parseList(value) {
			fs.ImageFormats = appendUnique(fs.ImageFormats, f)
		}
	case "ASYNCIFY":
		known = setSwitch(&fs.AsyncControlTransfer, value)
	case "ALLOW_MEMORY_GROWTH":
		known = setSwitch(&fs.DynamicMemoryGrowth, value)
	default:
		known = false
	}
	return known
}

func (fs *FlagSet) addEmbed(directive string) {
	src, dst, ok := strings.Cut(directive, "@")
	directive = strings.TrimSuffix(src, "/")
	if ok {
		directive += "@" + dst
	}
	fs.EmbedDirs = appendUnique(fs.EmbedDirs, directive)
}

// setPort handles the SDL port settings, which select a major version.
// Only SDL2 (or 0 to disable) is modelled.
func setPort(dst *bool, value string) bool {
	switch value {
	case "2":
		*dst = true
	case "0":
		*dst = false
	default:
		return false
	}
	return true
}

func setSwitch(dst *bool, value string) bool {
	switch value {
	case "1":
		*dst = true
	case "0":
		*dst = false
	default:
		return false
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// parseList reads an emscripten list value: ["png","jpg"] or [png,jpg].
func parseList(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// Merge adds other on top of fs. Flags are additive: switches are OR-ed and
// lists are unioned in order of first appearance.
func (fs FlagSet) Merge(other FlagSet) FlagSet {
	out := fs.clone()
	out.GraphicsPort = out.GraphicsPort || other.GraphicsPort
	out.TextRenderingPort = out.TextRenderingPort || other.TextRenderingPort
	out.ImagePort = out.ImagePort || other.ImagePort
	out.PreloadPlugins = out.PreloadPlugins || other.PreloadPlugins
	out.AsyncControlTransfer = out.AsyncControlTransfer || other.AsyncControlTransfer
	out.DynamicMemoryGrowth = out.DynamicMemoryGrowth || other.DynamicMemoryGrowth
	for _, f := range other.ImageFormats {
		out.ImageFormats = appendUnique(out.ImageFormats, f)
	}
	for _, d := range other.EmbedDirs {
		out.EmbedDirs = appendUnique(out.EmbedDirs, d)
	}
	out.Extra = append(out.Extra, other.Extra...)
	return out
}

func (fs FlagSet) clone() FlagSet {
	out := fs
	out.ImageFormats = slices.Clone(fs.ImageFormats)
	out.EmbedDirs = slices.Clone(fs.EmbedDirs)
	out.Extra = slices.Clone(fs.Extra)
	return out
}

// IsZero reports whether no option is set.
func (fs FlagSet) IsZero() bool {
	return len(fs.Tokens()) == 0
}

// Validate rejects combinations the toolchain is known to mishandle.
func (fs FlagSet) Validate(t Target) error {
	if fs.IsZero() {
		return nil
	}
	if !t.IsEmscripten() {
		return fmt.Errorf("%w: target %s does not use emscripten flags", ErrIncompatibleFlags, t)
	}
	if len(fs.ImageFormats) > 0 && !fs.ImagePort {
		return fmt.Errorf("%w: image formats %v set without the image-decoding port", ErrIncompatibleFlags, fs.ImageFormats)
	}
	// The graphics port runs a blocking main loop; without the async
	// transform the first blocking call never yields to the browser.
	if fs.GraphicsPort && !fs.AsyncControlTransfer {
		return fmt.Errorf("%w: graphics port requires async-control-transfer", ErrIncompatibleFlags)
	}
	for _, d := range fs.EmbedDirs {
		if strings.TrimSpace(d) == "" || strings.HasPrefix(d, "@") || strings.HasSuffix(d, "@") {
			return fmt.Errorf("%w: invalid embed path %q", ErrIncompatibleFlags, d)
		}
	}
	return nil
}

// EmbedSources returns the source side of each embed directive ("src@dst"
// embeds src at dst).
func (fs FlagSet) EmbedSources() []string {
	out := make([]string, 0, len(fs.EmbedDirs))
	for _, d := range fs.EmbedDirs {
		src, _, _ := strings.Cut(d, "@")
		out = append(out, src)
	}
	return out
}

// EmbedMount is one embed directive: the file or directory Src (relative to
// the project or absolute) appears at Dst in the program's virtual
// filesystem. Dst is slash-separated and relative to the filesystem root.
type EmbedMount struct {
	Src string
	Dst string
}

// EmbedMounts resolves the embed directives. Without an explicit "@dst" a
// path is mounted where it was named, so "map" lands at map/ and
// "/opt/maps" at opt/maps/.
func (fs FlagSet) EmbedMounts() []EmbedMount {
	out := make([]EmbedMount, 0, len(fs.EmbedDirs))
	for _, d := range fs.EmbedDirs {
		src, dst, ok := strings.Cut(d, "@")
		if !ok {
			dst = src
		}
		dst = path.Clean(strings.TrimLeft(filepath.ToSlash(dst), "/"))
		out = append(out, EmbedMount{Src: src, Dst: dst})
	}
	return out
}

// Tokens renders the flag set in canonical order. Preload handling always
// precedes the embed directives.
func (fs FlagSet) Tokens() []string {
	var out []string
	if fs.GraphicsPort {
		out = append(out, "-s", "USE_SDL=2")
	}
	if fs.TextRenderingPort {
		out = append(out, "-s", "USE_SDL_TTF=2")
	}
	if fs.ImagePort {
		out = append(out, "-s", "USE_SDL_IMAGE=2")
	}
	if len(fs.ImageFormats) > 0 {
		quoted := make([]string, len(fs.ImageFormats))
		for i, f := range fs.ImageFormats {
			quoted[i] = `"` + f + `"`
		}
		out = append(out, "-s", "SDL2_IMAGE_FORMATS=["+strings.Join(quoted, ",")+"]")
	}
	if fs.PreloadPlugins {
		out = append(out, "--use-preload-plugins")
	}
	if fs.AsyncControlTransfer {
		out = append(out, "-s", "ASYNCIFY")
	}
	if fs.DynamicMemoryGrowth {
		out = append(out, "-s", "ALLOW_MEMORY_GROWTH=1")
	}
	out = append(out, fs.Extra...)
	for _, d := range fs.EmbedDirs {
		out = append(out, "--embed-file", d)
	}
	return out
}

// String returns the token string as it is placed in EMCC_CFLAGS.
func (fs FlagSet) String() string {
	return strings.Join(fs.Tokens(), " ")
}
