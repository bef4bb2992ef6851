package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/aria/internal/config"
)

const validYAML = `
system:
  log_level: info
components:
  tts: true
  audio: true
tts:
  default_provider: console
  providers:
    console:
      enabled: true
audio:
  default_provider: console
  providers:
    console:
      enabled: true
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if !cfg.Components.TTS {
		t.Error("components.tts should be enabled")
	}
	if got := cfg.TTS.DefaultProvider; got != "console" {
		t.Errorf("tts.default_provider = %q, want %q", got, "console")
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("components:\n  monitoring: true\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.System.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.System.LogLevel)
	}
	if cfg.System.Language != "en" {
		t.Errorf("language = %q, want en", cfg.System.Language)
	}
	if cfg.System.TempAudioDir == "" {
		t.Error("temp_audio_dir should default to a non-empty path")
	}
	if cfg.Workflow.FallbackIntent != "conversation.chat" {
		t.Errorf("fallback_intent = %q, want conversation.chat", cfg.Workflow.FallbackIntent)
	}
	if cfg.IntentSystem.FallbackHandler != "conversation" {
		t.Errorf("fallback_handler = %q, want conversation", cfg.IntentSystem.FallbackHandler)
	}

	// Omitting the sections must not unbound the session lists or disable
	// low-confidence rerouting.
	if cfg.Conversation.HistoryLimit != 50 {
		t.Errorf("history_limit = %d, want 50", cfg.Conversation.HistoryLimit)
	}
	if cfg.Conversation.RecentActionsLimit != 20 {
		t.Errorf("recent_actions_limit = %d, want 20", cfg.Conversation.RecentActionsLimit)
	}
	if cfg.Conversation.FailedActionsLimit != 20 {
		t.Errorf("failed_actions_limit = %d, want 20", cfg.Conversation.FailedActionsLimit)
	}
	if cfg.Workflow.ConfidenceThreshold != 0.4 {
		t.Errorf("confidence_threshold = %v, want 0.4", cfg.Workflow.ConfidenceThreshold)
	}
}

func TestValidate_ActionPolicyVocabulary(t *testing.T) {
	t.Parallel()
	yaml := `
intent_system:
  action_policies:
    timer: sometimes
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown action policy, got nil")
	}
	if !strings.Contains(err.Error(), "action_policies.timer") {
		t.Errorf("error should name the offending domain, got: %v", err)
	}

	good := `
intent_system:
  action_policies:
    timer: reject
    music: replace
`
	cfg, err := config.LoadFromReader(strings.NewReader(good))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.IntentSystem.ActionPolicies["music"]; got != "replace" {
		t.Errorf("action_policies.music = %q, want replace", got)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("system:\n  log_levle: info\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("system:\n  log_level: bananas\n"))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TTSRequiresAudio(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  tts: true
tts:
  default_provider: console
  providers:
    console:
      enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for tts without audio, got nil")
	}
	if !strings.Contains(err.Error(), "components.audio") {
		t.Errorf("error should mention components.audio, got: %v", err)
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  asr: true
asr:
  default_provider: nonexistent
  providers:
    whispercpp:
      enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown provider reference, got nil")
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("error should name the unknown provider, got: %v", err)
	}
}

func TestValidate_DisabledProviderReference(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  asr: true
asr:
  default_provider: whispercpp
  fallback_providers: [voskws]
  providers:
    whispercpp:
      enabled: true
    voskws:
      enabled: false
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for disabled fallback provider, got nil")
	}
	if !strings.Contains(err.Error(), "voskws") {
		t.Errorf("error should name the disabled provider, got: %v", err)
	}
}

func TestValidate_EnabledComponentWithoutProviders(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  nlu: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for component without any enabled provider, got nil")
	}
	if !strings.Contains(err.Error(), "no nlu provider") {
		t.Errorf("error should mention missing nlu provider, got: %v", err)
	}
}

func TestValidate_KeywordPatternsNeedNameAndKeywords(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  nlu: true
nlu:
  default_provider: keyword
  providers:
    keyword:
      enabled: true
      patterns:
        - name: ""
          keywords: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty pattern, got nil")
	}
	if !strings.Contains(err.Error(), "patterns[0].name") {
		t.Errorf("error should mention patterns[0].name, got: %v", err)
	}
	if !strings.Contains(err.Error(), "patterns[0].keywords") {
		t.Errorf("error should mention patterns[0].keywords, got: %v", err)
	}
}

func TestValidate_ArchiveNeedsDSN(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  archive:
    enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for archive without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_ConfidenceThresholdRange(t *testing.T) {
	t.Parallel()
	yaml := `
workflow:
  confidence_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range threshold, got nil")
	}
}

func TestValidate_AggregatesAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
system:
  log_level: loud
components:
  tts: true
tts:
  default_provider: nonexistent
  providers:
    console:
      enabled: true
workflow:
  confidence_threshold: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T, want *config.ConfigError", err)
	}
	if len(ce.Errs) < 3 {
		t.Errorf("ConfigError holds %d errors, want at least 3: %v", len(ce.Errs), ce)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	yaml := `
components:
  llm: true
llm:
  default_provider: openai
  providers:
    openai:
      enabled: true
      api_key: ${ARIA_TEST_API_KEY}
`
	t.Setenv("ARIA_TEST_API_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Providers.OpenAI.APIKey; got != "sk-test-123" {
		t.Errorf("api_key = %q, want expanded env value", got)
	}
}

func TestLoad_MissingFileReportsPath(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/aria.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "/nonexistent/aria.yaml") {
		t.Errorf("error should contain the path, got: %v", err)
	}
}

func TestExpandEnv_LeavesBareDollarsAlone(t *testing.T) {
	t.Parallel()
	in := []byte("binary: /usr/bin/player $FLAGS ${ARIA_UNSET_VAR}")
	got := string(config.ExpandEnv(in))
	if !strings.Contains(got, "$FLAGS") {
		t.Errorf("bare $FLAGS should survive, got %q", got)
	}
	if strings.Contains(got, "ARIA_UNSET_VAR") {
		t.Errorf("unset ${ARIA_UNSET_VAR} should expand to empty, got %q", got)
	}
}

func TestEnabledProviders(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	got := config.EnabledProviders(cfg, "tts")
	if len(got) != 1 || got[0] != "console" {
		t.Errorf("EnabledProviders(tts) = %v, want [console]", got)
	}
	if names := config.EnabledProviders(cfg, "no_such_kind"); names != nil {
		t.Errorf("unknown kind should yield nil, got %v", names)
	}
}

func TestDurationFieldsDecode(t *testing.T) {
	t.Parallel()
	yaml := `
workflow:
  request_timeout: 90s
  stage_timeouts:
    asr: 45s
conversation:
  session_expiry: 1h
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Workflow.RequestTimeout != 90*time.Second {
		t.Errorf("request_timeout = %v, want 90s", cfg.Workflow.RequestTimeout)
	}
	if cfg.Workflow.StageTimeouts.ASR != 45*time.Second {
		t.Errorf("stage_timeouts.asr = %v, want 45s", cfg.Workflow.StageTimeouts.ASR)
	}
	if cfg.Conversation.SessionExpiry != time.Hour {
		t.Errorf("session_expiry = %v, want 1h", cfg.Conversation.SessionExpiry)
	}
}
