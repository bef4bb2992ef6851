package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError aggregates everything wrong with a configuration file. The
// process fails fast on it at startup; the watcher logs it and keeps the old
// snapshot.
type ConfigError struct {
	// Path is the file that failed to load. Empty for reader-based loads.
	Path string

	// Errs are the individual parse or validation failures.
	Errs []error
}

// Error implements error.
func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config")
	if e.Path != "" {
		fmt.Fprintf(&sb, " %q", e.Path)
	}
	sb.WriteString(": ")
	for i, err := range e.Errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *ConfigError) Unwrap() []error { return e.Errs }

// envPattern matches ${VAR} placeholders. Bare $VAR is left alone so shell
// fragments in option values survive.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in data with the value of the environment
// variable VAR. Unset variables expand to the empty string.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(os.Getenv(name))
	})
}

// Load reads the YAML configuration file at path, expands ${ENV}
// placeholders, and returns a validated [Config]. Failures are reported as a
// [*ConfigError] carrying the path and every individual message.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Errs: []error{err}}
	}

	cfg, err := LoadFromReader(strings.NewReader(string(ExpandEnv(data))))
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Errs: []error{err}}
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected. Useful in tests where configs are constructed
// from string literals; env expansion is the caller's concern here.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, &ConfigError{Errs: []error{fmt.Errorf("decode yaml: %w", err)}}
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields whose schema declares a default.
// Only the handful of fields the runtime cannot treat zero-valued are listed;
// everything else defaults at the point of use.
func applyDefaults(cfg *Config) {
	if cfg.System.LogLevel == "" {
		cfg.System.LogLevel = LogInfo
	}
	if cfg.System.Language == "" {
		cfg.System.Language = "en"
	}
	if cfg.System.TempAudioDir == "" {
		cfg.System.TempAudioDir = filepath.Join(os.TempDir(), "aria")
	}
	if cfg.IntentSystem.FallbackHandler == "" {
		cfg.IntentSystem.FallbackHandler = "conversation"
	}
	if cfg.Workflow.FallbackIntent == "" {
		cfg.Workflow.FallbackIntent = "conversation.chat"
	}
	// Exactly zero means unset; negatives stay for Validate to reject.
	if cfg.Workflow.ConfidenceThreshold == 0 {
		cfg.Workflow.ConfidenceThreshold = 0.4
	}
	if cfg.Conversation.HistoryLimit <= 0 {
		cfg.Conversation.HistoryLimit = 50
	}
	if cfg.Conversation.RecentActionsLimit <= 0 {
		cfg.Conversation.RecentActionsLimit = 20
	}
	if cfg.Conversation.FailedActionsLimit <= 0 {
		cfg.Conversation.FailedActionsLimit = 20
	}
}

// componentView is a uniform handle over one provider component for
// validation and host construction.
type componentView struct {
	kind      string
	enabled   bool
	settings  ComponentSettings
	providers map[string]bool // provider name -> enabled
}

// componentViews enumerates the provider-backed components. Non-provider
// components (intent_system, monitoring, nlu_analysis, configuration) are
// validated separately.
func componentViews(cfg *Config) []componentView {
	return []componentView{
		{
			kind: "tts", enabled: cfg.Components.TTS, settings: cfg.TTS.ComponentSettings,
			providers: map[string]bool{
				"coqui":   cfg.TTS.Providers.Coqui.Enabled,
				"console": cfg.TTS.Providers.Console.Enabled,
			},
		},
		{
			kind: "audio", enabled: cfg.Components.Audio, settings: cfg.Audio.ComponentSettings,
			providers: map[string]bool{
				"cmdline": cfg.Audio.Providers.Cmdline.Enabled,
				"console": cfg.Audio.Providers.Console.Enabled,
			},
		},
		{
			kind: "asr", enabled: cfg.Components.ASR, settings: cfg.ASR.ComponentSettings,
			providers: map[string]bool{
				"whispercpp": cfg.ASR.Providers.WhisperCpp.Enabled,
				"voskws":     cfg.ASR.Providers.VoskWS.Enabled,
			},
		},
		{
			kind: "llm", enabled: cfg.Components.LLM, settings: cfg.LLM.ComponentSettings,
			providers: map[string]bool{
				"openai": cfg.LLM.Providers.OpenAI.Enabled,
				"anyllm": cfg.LLM.Providers.AnyLLM.Enabled,
			},
		},
		{
			kind: "voice_trigger", enabled: cfg.Components.VoiceTrigger, settings: cfg.VoiceTrigger.ComponentSettings,
			providers: map[string]bool{
				"energy": cfg.VoiceTrigger.Providers.Energy.Enabled,
			},
		},
		{
			kind: "nlu", enabled: cfg.Components.NLU, settings: cfg.NLU.ComponentSettings,
			providers: map[string]bool{
				"keyword": cfg.NLU.Providers.Keyword.Enabled,
			},
		},
		{
			kind: "text_processor", enabled: cfg.Components.TextProcessor, settings: cfg.TextProcessor.ComponentSettings,
			providers: map[string]bool{
				"basic": cfg.TextProcessor.Providers.Basic.Enabled,
			},
		},
	}
}

// IsComponentEnabled reports whether the named component is switched on.
// Unknown names report false.
func IsComponentEnabled(cfg *Config, name string) bool {
	switch name {
	case "tts":
		return cfg.Components.TTS
	case "audio":
		return cfg.Components.Audio
	case "asr":
		return cfg.Components.ASR
	case "llm":
		return cfg.Components.LLM
	case "voice_trigger":
		return cfg.Components.VoiceTrigger
	case "nlu":
		return cfg.Components.NLU
	case "text_processor":
		return cfg.Components.TextProcessor
	case "intent_system":
		return cfg.Components.IntentSystem
	case "monitoring":
		return cfg.Components.Monitoring
	case "nlu_analysis":
		return cfg.Components.NLUAnalysis
	case "configuration":
		return cfg.Components.Configuration
	}
	return false
}

// EnabledProviders returns the enabled provider names for kind, or nil when
// the kind is unknown.
func EnabledProviders(cfg *Config, kind string) []string {
	for _, view := range componentViews(cfg) {
		if view.kind != kind {
			continue
		}
		var names []string
		for name, enabled := range view.providers {
			if enabled {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// [*ConfigError] listing all failures found, or nil.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.System.LogLevel != "" && !cfg.System.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("system.log_level %q is invalid; valid values: debug, info, warn, error", cfg.System.LogLevel))
	}

	// TTS without playback leaves synthesised files with nowhere to go.
	if cfg.Components.TTS && !cfg.Components.Audio {
		errs = append(errs, errors.New("components.tts is enabled but components.audio is not; synthesised audio would never play"))
	}

	// The temp audio directory must be writable before the first request.
	if cfg.Components.TTS {
		if err := probeDir(cfg.System.TempAudioDir); err != nil {
			errs = append(errs, fmt.Errorf("system.temp_audio_dir %q is not writable: %w", cfg.System.TempAudioDir, err))
		}
	}

	// Provider routing must reference known, enabled providers.
	for _, view := range componentViews(cfg) {
		if !view.enabled {
			continue
		}
		errs = append(errs, validateRouting(view)...)
	}

	// Keyword patterns need a name and at least one keyword.
	if cfg.Components.NLU && cfg.NLU.Providers.Keyword.Enabled {
		for i, pat := range cfg.NLU.Providers.Keyword.Patterns {
			if pat.Name == "" {
				errs = append(errs, fmt.Errorf("nlu.providers.keyword.patterns[%d].name is required", i))
			}
			if len(pat.Keywords) == 0 {
				errs = append(errs, fmt.Errorf("nlu.providers.keyword.patterns[%d].keywords must not be empty", i))
			}
		}
	}

	// Action conflict policies form a closed vocabulary.
	for domain, policy := range cfg.IntentSystem.ActionPolicies {
		if policy != "reject" && policy != "replace" {
			errs = append(errs, fmt.Errorf("intent_system.action_policies.%s is %q; valid values: reject, replace", domain, policy))
		}
	}

	// An enabled archive needs a DSN.
	if cfg.Conversation.Archive.Enabled && cfg.Conversation.Archive.PostgresDSN == "" {
		errs = append(errs, errors.New("conversation.archive.enabled is true but postgres_dsn is empty"))
	}

	if cfg.Workflow.ConfidenceThreshold < 0 || cfg.Workflow.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("workflow.confidence_threshold %.2f is out of range [0, 1]", cfg.Workflow.ConfidenceThreshold))
	}

	if len(errs) == 0 {
		return nil
	}
	return &ConfigError{Errs: errs}
}

// validateRouting checks the default/fallback/essential references of one
// enabled component.
func validateRouting(view componentView) []error {
	var errs []error

	anyEnabled := false
	for _, enabled := range view.providers {
		if enabled {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		errs = append(errs, fmt.Errorf("components.%s is enabled but no %s provider is enabled", view.kind, view.kind))
	}

	check := func(field, name string) {
		if name == "" {
			return
		}
		enabled, known := view.providers[name]
		if !known {
			errs = append(errs, fmt.Errorf("%s.%s references unknown provider %q", view.kind, field, name))
			return
		}
		if !enabled {
			errs = append(errs, fmt.Errorf("%s.%s references provider %q which is not enabled", view.kind, field, name))
		}
	}

	check("default_provider", view.settings.DefaultProvider)
	for _, name := range view.settings.FallbackProviders {
		check("fallback_providers", name)
	}
	for _, name := range view.settings.Essential {
		check("essential", name)
	}
	return errs
}

// probeDir ensures dir exists and is writable by creating and removing a
// probe file.
func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".aria-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
