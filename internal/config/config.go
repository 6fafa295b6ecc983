// Package config manages .metis/config.toml, the authoritative source for
// a workspace's short-code prefix and flight-level preset (spec.md §3.4,
// §4.2). It is parsed with github.com/BurntSushi/toml and rewritten with
// github.com/natefinch/atomic, matching the teacher's split between a
// single-file atomic rewrite path (natefinch/atomic, used by its root
// config/lock files) and the heavier temp-file-and-rename document writer
// used for content under management (fsx.AtomicWriter, see internal/fsx).
package config

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	natomic "github.com/natefinch/atomic"

	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

// Preset is a named bundle of flight-level flags (spec.md §3.4).
type Preset string

// The three supported presets.
const (
	PresetFull        Preset = "full"
	PresetStreamlined Preset = "streamlined"
	PresetDirect      Preset = "direct"
)

var prefixPattern = regexp.MustCompile(`^[A-Z]{2,6}$`)

// fileShape is the literal TOML document shape.
type fileShape struct {
	Project      projectShape      `toml:"project"`
	FlightLevels flightLevelsShape `toml:"flight_levels"`
}

type projectShape struct {
	Prefix string `toml:"prefix"`
}

type flightLevelsShape struct {
	StrategiesEnabled  bool `toml:"strategies_enabled"`
	InitiativesEnabled bool `toml:"initiatives_enabled"`
}

// Config is the in-memory, validated form of config.toml.
type Config struct {
	Prefix              string
	StrategiesEnabled   bool
	InitiativesEnabled  bool
}

// ForPreset returns the flag combination for a named preset.
func ForPreset(prefix string, preset Preset) Config {
	switch preset {
	case PresetStreamlined:
		return Config{Prefix: prefix, StrategiesEnabled: false, InitiativesEnabled: true}
	case PresetDirect:
		return Config{Prefix: prefix, StrategiesEnabled: false, InitiativesEnabled: false}
	default:
		return Config{Prefix: prefix, StrategiesEnabled: true, InitiativesEnabled: true}
	}
}

// PresetName reports which named preset a Config's flags correspond to.
// It never returns "": every one of the 2x2 flag combinations maps to a
// preset, and the combination no preset produces (strategies enabled,
// initiatives disabled, reachable only by hand-editing config.toml) is
// reported as "direct".
func (c Config) PresetName() Preset {
	switch {
	case c.StrategiesEnabled && c.InitiativesEnabled:
		return PresetFull
	case !c.StrategiesEnabled && c.InitiativesEnabled:
		return PresetStreamlined
	default:
		return PresetDirect
	}
}

// Validate checks the prefix grammar (ASCII uppercase, 2-6 chars).
func (c Config) Validate() error {
	if !prefixPattern.MatchString(c.Prefix) {
		return fmt.Errorf("%w: prefix %q must match %s", metiserr.ErrConfiguration, c.Prefix, prefixPattern.String())
	}

	return nil
}

// Load parses w's config.toml. A missing or malformed file is a fatal
// ConfigurationError (spec.md §4.2 step 1).
func Load(w *workspace.Workspace) (Config, error) {
	data, err := w.FS.ReadFile(w.ConfigPath())
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %w", metiserr.ErrConfiguration, w.ConfigPath(), err)
	}

	var shape fileShape

	if _, err := toml.Decode(string(data), &shape); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %w", metiserr.ErrConfiguration, w.ConfigPath(), err)
	}

	cfg := Config{
		Prefix:             strings.ToUpper(strings.TrimSpace(shape.Project.Prefix)),
		StrategiesEnabled:  shape.FlightLevels.StrategiesEnabled,
		InitiativesEnabled: shape.FlightLevels.InitiativesEnabled,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save atomically rewrites config.toml (used by initialise_workspace).
func Save(w *workspace.Workspace, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shape := fileShape{
		Project: projectShape{Prefix: cfg.Prefix},
		FlightLevels: flightLevelsShape{
			StrategiesEnabled:  cfg.StrategiesEnabled,
			InitiativesEnabled: cfg.InitiativesEnabled,
		},
	}

	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(shape); err != nil {
		return fmt.Errorf("%w: encoding config: %w", metiserr.ErrConfiguration, err)
	}

	if err := natomic.WriteFile(w.ConfigPath(), &buf); err != nil {
		return fmt.Errorf("%w: writing %s: %w", metiserr.ErrIO, w.ConfigPath(), err)
	}

	return nil
}

// AllowsLevel reports whether the preset permits creating a document of
// the given level (used to produce PresetDisallowsType, spec.md §6.2).
func (c Config) AllowsLevel(levelIsStrategy, levelIsInitiative bool) bool {
	if levelIsStrategy {
		return c.StrategiesEnabled
	}

	if levelIsInitiative {
		return c.InitiativesEnabled
	}

	return true
}
