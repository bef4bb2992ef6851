package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// requires a restart and is deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ComponentsChanged bool            // true if any component routing or enablement changed
	ComponentChanges  []ComponentDiff // per-component diffs
}

// ComponentDiff describes what changed for a single provider component.
type ComponentDiff struct {
	Kind string

	EnabledChanged bool
	NowEnabled     bool

	DefaultProviderChanged bool
	NewDefaultProvider     string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.System.LogLevel != new.System.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.System.LogLevel
	}

	oldViews := componentViews(old)
	newViews := componentViews(new)
	for i := range oldViews {
		cd := diffComponent(oldViews[i], newViews[i])
		if cd.EnabledChanged || cd.DefaultProviderChanged {
			d.ComponentChanges = append(d.ComponentChanges, cd)
			d.ComponentsChanged = true
		}
	}

	return d
}

// diffComponent compares one component's hot-reloadable fields.
func diffComponent(old, new componentView) ComponentDiff {
	cd := ComponentDiff{Kind: old.kind}

	if old.enabled != new.enabled {
		cd.EnabledChanged = true
		cd.NowEnabled = new.enabled
	}

	if old.settings.DefaultProvider != new.settings.DefaultProvider {
		cd.DefaultProviderChanged = true
		cd.NewDefaultProvider = new.settings.DefaultProvider
	}

	return cd
}
