// Package manifest handles unscript.toml engine profiles.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"

	"github.com/chazu/unscript/decompiler"
)

// FileName is the profile file FindAndLoad looks for.
const FileName = "unscript.toml"

// Profile represents an unscript.toml engine profile: the constants the
// resource container would otherwise supply for a game.
type Profile struct {
	Profile    Meta       `toml:"profile" json:"profile"`
	Variables  Variables  `toml:"variables" json:"variables"`
	Procedures Procedures `toml:"procedures" json:"procedures"`
	Plugins    []Plugin   `toml:"plugins" json:"plugins,omitempty"`
	Output     Output     `toml:"output" json:"output"`

	// Dir is the directory containing the profile file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Meta contains profile metadata.
type Meta struct {
	Name string `toml:"name" json:"name,omitempty"`
}

// Variables configures the variable bands.
type Variables struct {
	Scene  int32 `toml:"scene" json:"scene"`
	System int32 `toml:"system" json:"system"`
}

// Procedures configures the internal procedure table.
type Procedures struct {
	MaxBuiltin int32             `toml:"max-builtin" json:"max-builtin"`
	Names      map[string]string `toml:"names" json:"names,omitempty"`
}

// Plugin is one external procedure provider, in id order.
type Plugin struct {
	Name       string   `toml:"name" json:"name"`
	Procedures []string `toml:"procedures" json:"procedures"`
}

// Output configures rendering and caching.
type Output struct {
	Indent string `toml:"indent" json:"indent,omitempty"`
	Cache  string `toml:"cache" json:"cache,omitempty"`
}

// Default returns the profile used when no unscript.toml exists.
func Default() *Profile {
	return &Profile{
		Profile:    Meta{Name: "default"},
		Variables:  Variables{Scene: 1000, System: 200},
		Procedures: Procedures{MaxBuiltin: 255},
		Output:     Output{Indent: decompiler.DefaultIndent},
	}
}

// Load parses the unscript.toml file in the given directory.
func Load(dir string) (*Profile, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses and validates a profile file at an explicit path.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	p := Default()
	p.Output.Indent = ""
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	p.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Defaults
	if p.Output.Indent == "" {
		p.Output.Indent = decompiler.DefaultIndent
	}

	return p, nil
}

// FindAndLoad walks up from startDir to find an unscript.toml file,
// then loads and returns the profile. Returns nil if no profile is found.
func FindAndLoad(startDir string) (*Profile, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Environment converts the profile into the decompiler's environment.
// Validate has already rejected non-numeric procedure ids.
func (p *Profile) Environment() decompiler.Environment {
	env := decompiler.Environment{
		SceneVars:  p.Variables.Scene,
		SystemVars: p.Variables.System,
		MaxBuiltin: p.Procedures.MaxBuiltin,
		Builtins:   make(map[int32]string, len(p.Procedures.Names)),
	}
	for k, name := range p.Procedures.Names {
		id, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			continue
		}
		env.Builtins[int32(id)] = name
	}
	for _, pl := range p.Plugins {
		env.Plugins = append(env.Plugins, decompiler.Plugin{
			Name:       pl.Name,
			Procedures: append([]string(nil), pl.Procedures...),
		})
	}
	return env
}

// CachePath returns the absolute path of the decompile cache, or "" when
// caching is off.
func (p *Profile) CachePath() string {
	if p.Output.Cache == "" {
		return ""
	}
	if filepath.IsAbs(p.Output.Cache) || p.Dir == "" {
		return p.Output.Cache
	}
	return filepath.Join(p.Dir, p.Output.Cache)
}

// fingerprintInput is the part of a profile that changes rendered output.
type fingerprintInput struct {
	Scene      int32            `cbor:"1,keyasint"`
	System     int32            `cbor:"2,keyasint"`
	MaxBuiltin int32            `cbor:"3,keyasint"`
	Names      map[int32]string `cbor:"4,keyasint"`
	Plugins    []Plugin         `cbor:"5,keyasint"`
	Indent     string           `cbor:"6,keyasint"`
}

var fingerprintMode cbor.EncMode

func init() {
	var err error
	fingerprintMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Fingerprint hashes everything in the profile that affects decompiled
// output. Equal fingerprints mean cached results can be reused.
func (p *Profile) Fingerprint() uint64 {
	env := p.Environment()
	in := fingerprintInput{
		Scene:      env.SceneVars,
		System:     env.SystemVars,
		MaxBuiltin: env.MaxBuiltin,
		Names:      env.Builtins,
		Plugins:    p.Plugins,
		Indent:     p.Output.Indent,
	}
	data, err := fingerprintMode.Marshal(in)
	if err != nil {
		// Only plain values are encoded; this cannot fail.
		panic(err)
	}
	return xxh3.Hash(data)
}
