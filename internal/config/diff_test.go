package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/aria/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, validYAML)
	new := mustLoad(t, validYAML)

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false for identical configs")
	}
	if d.ComponentsChanged {
		t.Errorf("ComponentsChanged should be false, got changes: %+v", d.ComponentChanges)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, validYAML)
	new := mustLoad(t, strings.Replace(validYAML, "log_level: info", "log_level: debug", 1))

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_DefaultProviderChange(t *testing.T) {
	t.Parallel()
	oldYAML := `
components:
  tts: true
  audio: true
tts:
  default_provider: coqui
  providers:
    coqui:
      enabled: true
    console:
      enabled: true
audio:
  default_provider: console
  providers:
    console:
      enabled: true
`
	old := mustLoad(t, oldYAML)
	new := mustLoad(t, strings.Replace(oldYAML, "default_provider: coqui", "default_provider: console", 1))

	d := config.Diff(old, new)
	if !d.ComponentsChanged {
		t.Fatal("ComponentsChanged should be true")
	}

	var found bool
	for _, cd := range d.ComponentChanges {
		if cd.Kind == "tts" {
			found = true
			if !cd.DefaultProviderChanged {
				t.Error("tts DefaultProviderChanged should be true")
			}
			if cd.NewDefaultProvider != "console" {
				t.Errorf("tts NewDefaultProvider = %q, want console", cd.NewDefaultProvider)
			}
			if cd.EnabledChanged {
				t.Error("tts EnabledChanged should be false")
			}
		}
	}
	if !found {
		t.Errorf("no tts diff recorded: %+v", d.ComponentChanges)
	}
}

func TestDiff_ComponentEnablement(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, validYAML)
	new := mustLoad(t, strings.Replace(validYAML, "  tts: true", "  tts: false", 1))

	d := config.Diff(old, new)
	if !d.ComponentsChanged {
		t.Fatal("ComponentsChanged should be true")
	}
	var found bool
	for _, cd := range d.ComponentChanges {
		if cd.Kind == "tts" && cd.EnabledChanged {
			found = true
			if cd.NowEnabled {
				t.Error("tts NowEnabled should be false")
			}
		}
	}
	if !found {
		t.Errorf("no tts enablement diff recorded: %+v", d.ComponentChanges)
	}
}
