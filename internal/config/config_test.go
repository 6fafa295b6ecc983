package config_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/workspace"
)

func TestForPreset(t *testing.T) {
	t.Parallel()

	full := config.ForPreset("ACME", config.PresetFull)
	if !full.StrategiesEnabled || !full.InitiativesEnabled {
		t.Errorf("full preset = %+v, want both enabled", full)
	}

	streamlined := config.ForPreset("ACME", config.PresetStreamlined)
	if streamlined.StrategiesEnabled || !streamlined.InitiativesEnabled {
		t.Errorf("streamlined preset = %+v, want strategies disabled only", streamlined)
	}

	direct := config.ForPreset("ACME", config.PresetDirect)
	if direct.StrategiesEnabled || direct.InitiativesEnabled {
		t.Errorf("direct preset = %+v, want both disabled", direct)
	}
}

func TestPresetName_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, p := range []config.Preset{config.PresetFull, config.PresetStreamlined, config.PresetDirect} {
		cfg := config.ForPreset("ACME", p)
		if got := cfg.PresetName(); got != p {
			t.Errorf("PresetName() = %q, want %q", got, p)
		}
	}
}

func TestValidate_RejectsBadPrefix(t *testing.T) {
	t.Parallel()

	cases := []string{"a", "ACME1", "TOOLONGPREFIX", "", "ac-me"}

	for _, prefix := range cases {
		cfg := config.Config{Prefix: prefix}
		if err := cfg.Validate(); !errors.Is(err, metiserr.ErrConfiguration) {
			t.Errorf("Validate(%q): want ErrConfiguration, got %v", prefix, err)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	metisDir := filepath.Join(dir, ".metis")
	ws := workspace.New(fsx.NewReal(), metisDir)

	if err := fsx.NewReal().MkdirAll(metisDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	want := config.ForPreset("ACME", config.PresetStreamlined)

	if err := config.Save(ws, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := config.Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoad_MissingFileIsConfigurationError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ws := workspace.New(fsx.NewReal(), filepath.Join(dir, ".metis"))

	_, err := config.Load(ws)
	if !errors.Is(err, metiserr.ErrConfiguration) {
		t.Fatalf("Load: want ErrConfiguration, got %v", err)
	}
}

func TestAllowsLevel(t *testing.T) {
	t.Parallel()

	streamlined := config.ForPreset("ACME", config.PresetStreamlined)

	if streamlined.AllowsLevel(true, false) {
		t.Error("streamlined preset should disallow strategy")
	}

	if !streamlined.AllowsLevel(false, true) {
		t.Error("streamlined preset should allow initiative")
	}

	if !streamlined.AllowsLevel(false, false) {
		t.Error("non-strategy/initiative levels (vision/task/adr) are always allowed")
	}
}
