// Package project resolves everything the pipeline needs to know about the
// program being released: its name (from Cargo.toml), the asset layout, the
// build target and the toolchain flag set.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/yawgame/webrelease/internal/config"
	"github.com/yawgame/webrelease/internal/toolchain"
	"github.com/yawgame/webrelease/internal/workspace"
)

const (
	CargoFileName = "Cargo.toml"

	defaultShell   = "index.html"
	defaultImages  = "images"
	defaultMap     = "map"
	defaultOut     = "dist"
	defaultProfile = "release"
)

// Manifest is the optional webrelease.yaml next to Cargo.toml. Empty fields
// fall back to the defaults.
type Manifest struct {
	Name    string             `yaml:"name"`
	Target  string             `yaml:"target"`
	Profile string             `yaml:"profile"`
	Shell   string             `yaml:"shell"`
	Images  string             `yaml:"images"`
	Map     string             `yaml:"map"`
	Out     string             `yaml:"out"`
	Flags   *toolchain.FlagSet `yaml:"flags"`
}

// Project is the resolved build description. All paths are joined with Dir.
type Project struct {
	Dir       string
	Name      string
	Target    toolchain.Target
	Profile   string
	ShellDoc  string
	ImagesDir string
	MapDir    string
	OutDir    string
	Flags     toolchain.FlagSet

	ManifestPath string // empty when no manifest was found
}

type cargoFile struct {
	Package *struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

// CargoName returns the artifact base name declared by Cargo.toml in dir:
// the single [[bin]] name if there is exactly one, else [package].name.
func CargoName(dir string) (string, error) {
	path := filepath.Join(dir, CargoFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var cf cargoFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cf.Bin) == 1 && cf.Bin[0].Name != "" {
		return cf.Bin[0].Name, nil
	}
	if cf.Package != nil && cf.Package.Name != "" {
		return cf.Package.Name, nil
	}
	return "", fmt.Errorf("%s: no package name", path)
}

// LoadManifest reads a manifest file. A missing file yields a nil manifest
// and no error.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// Load resolves the project from the manifest and the environment
// configuration. Environment values win over the manifest; the flag token
// string is merged onto the manifest's flag set.
func Load(cfg *config.Config) (*Project, error) {
	dir := cfg.ProjectDir
	manifestPath := cfg.Manifest
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(dir, manifestPath)
	}
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &Manifest{}
		manifestPath = ""
	}

	p := &Project{Dir: dir, ManifestPath: manifestPath}

	p.Name = m.Name
	if p.Name == "" {
		if p.Name, err = CargoName(dir); err != nil {
			return nil, fmt.Errorf("project name: %w", err)
		}
	}

	target := firstNonEmpty(cfg.Target, m.Target, toolchain.DefaultTarget)
	if p.Target, err = toolchain.ParseTarget(target); err != nil {
		return nil, err
	}
	p.Profile = firstNonEmpty(cfg.Profile, m.Profile, defaultProfile)

	p.ShellDoc = p.path(firstNonEmpty(m.Shell, defaultShell))
	p.ImagesDir = p.path(firstNonEmpty(m.Images, defaultImages))
	p.MapDir = p.path(firstNonEmpty(m.Map, defaultMap))
	p.OutDir = p.path(firstNonEmpty(cfg.OutDir, m.Out, defaultOut))

	if m.Flags != nil {
		p.Flags = *m.Flags
	}
	if cfg.CFlagsSet {
		envFlags, err := toolchain.ParseFlags(cfg.CFlags)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.FlagsEnv, err)
		}
		p.Flags = p.Flags.Merge(envFlags)
	}

	if err := workspace.CheckReset(p.OutDir, p.Dir, p.Sources()...); err != nil {
		return nil, err
	}

	slog.Debug("project loaded",
		"name", p.Name,
		"target", p.Target.String(),
		"profile", p.Profile,
		"manifest", p.ManifestPath,
		"flags", p.Flags.String(),
	)
	return p, nil
}

// path resolves a manifest-relative path against the project directory.
func (p *Project) path(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(p.Dir, rel)
}

// Sources returns every path the output directory must stay clear of: the
// crate sources and build directory, the asset inputs and each embedded
// path.
func (p *Project) Sources() []string {
	out := []string{
		filepath.Join(p.Dir, CargoFileName),
		filepath.Join(p.Dir, "src"),
		filepath.Join(p.Dir, "target"),
		p.ShellDoc,
		p.ImagesDir,
		p.MapDir,
	}
	if p.ManifestPath != "" {
		out = append(out, p.ManifestPath)
	}
	for _, m := range p.Flags.EmbedMounts() {
		out = append(out, p.path(m.Src))
	}
	return out
}

// MapMount returns where the map directory appears inside the embedded
// filesystem, and false when no embed directive covers it.
func (p *Project) MapMount() (string, bool) {
	for _, m := range p.Flags.EmbedMounts() {
		if p.path(m.Src) == p.MapDir {
			return m.Dst, true
		}
	}
	return "", false
}

// MapEmbedded reports whether the flag set embeds the map directory.
func (p *Project) MapEmbedded() bool {
	_, ok := p.MapMount()
	return ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
