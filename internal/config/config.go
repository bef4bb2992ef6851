// Package config provides the configuration schema, loader, schema registry,
// and provider factory registry for the Aria voice assistant runtime.
package config

import "time"

// LogLevel controls log verbosity for the Aria runtime.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Aria. It is typically loaded
// from a YAML file using [Load] or [LoadFromReader]. Every enabled component
// in [ComponentsConfig] has a matching typed section below; the schema
// registry enforces the pairing by name convention.
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Components ComponentsConfig `yaml:"components"`

	VoiceTrigger  VoiceTriggerConfig  `yaml:"voice_trigger"`
	ASR           ASRConfig           `yaml:"asr"`
	TextProcessor TextProcessorConfig `yaml:"text_processor"`
	NLU           NLUConfig           `yaml:"nlu"`
	IntentSystem  IntentSystemConfig  `yaml:"intent_system"`
	LLM           LLMConfig           `yaml:"llm"`
	TTS           TTSConfig           `yaml:"tts"`
	Audio         AudioConfig         `yaml:"audio"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	NLUAnalysis   NLUAnalysisConfig   `yaml:"nlu_analysis"`
	Configuration ConfigurationConfig `yaml:"configuration"`

	Conversation ConversationConfig `yaml:"conversation"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" desc:"Log verbosity." options:"debug,info,warn,error" default:"info"`

	// Language is the default BCP-47 language for the pipeline.
	Language string `yaml:"language" desc:"Default BCP-47 language code." default:"en"`

	// TempAudioDir is where synthesised audio files are written before
	// playback. Must be writable; probed at load.
	TempAudioDir string `yaml:"temp_audio_dir" desc:"Directory for temporary synthesis artefacts." default:"/tmp/aria"`
}

// ComponentsConfig toggles each capability component. The boolean field names
// pair with the typed section structs by name convention (TTS -> TTSConfig);
// the schema registry validates the pairing.
type ComponentsConfig struct {
	TTS           bool `yaml:"tts"`
	Audio         bool `yaml:"audio"`
	ASR           bool `yaml:"asr"`
	LLM           bool `yaml:"llm"`
	VoiceTrigger  bool `yaml:"voice_trigger"`
	NLU           bool `yaml:"nlu"`
	TextProcessor bool `yaml:"text_processor"`
	IntentSystem  bool `yaml:"intent_system"`
	Monitoring    bool `yaml:"monitoring"`
	NLUAnalysis   bool `yaml:"nlu_analysis"`
	Configuration bool `yaml:"configuration"`
}

// ComponentSettings is the provider-routing block shared by all provider
// components.
type ComponentSettings struct {
	// DefaultProvider is tried first on every call.
	DefaultProvider string `yaml:"default_provider" desc:"Provider tried first on every call."`

	// FallbackProviders are tried in order when the default fails.
	FallbackProviders []string `yaml:"fallback_providers" desc:"Providers tried in order after the default fails."`

	// Lazy defers construction of non-essential providers to first use.
	Lazy bool `yaml:"lazy" desc:"Construct non-essential providers on first use." default:"false"`

	// Essential providers are constructed at init even in lazy mode.
	Essential []string `yaml:"essential" desc:"Providers constructed eagerly even in lazy mode."`
}

// ── Voice trigger ──────────────────────────────────────────────────────────

// VoiceTriggerConfig configures the wake-word component.
type VoiceTriggerConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         VoiceTriggerProviders `yaml:"providers"`
}

// VoiceTriggerProviders holds one sub-config per known trigger provider.
type VoiceTriggerProviders struct {
	Energy EnergyTriggerConfig `yaml:"energy"`
}

// EnergyTriggerConfig configures the RMS energy-gate trigger.
type EnergyTriggerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	RMSThreshold float64 `yaml:"rms_threshold" desc:"RMS amplitude above which a frame counts as speech." default:"300" min:"0"`
	ActivationMs int     `yaml:"activation_ms" desc:"Sustained speech duration (ms) required to trigger." default:"300" min:"0"`
	PreRollMs    int     `yaml:"pre_roll_ms" desc:"Audio (ms) retained before the activation point." default:"1000" min:"0"`
}

// ── ASR ────────────────────────────────────────────────────────────────────

// ASRConfig configures the speech-recognition component.
type ASRConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         ASRProviders `yaml:"providers"`
}

// ASRProviders holds one sub-config per known ASR provider.
type ASRProviders struct {
	WhisperCpp WhisperCppConfig `yaml:"whispercpp"`
	VoskWS     VoskWSConfig     `yaml:"voskws"`
}

// WhisperCppConfig configures the native whisper.cpp provider.
type WhisperCppConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelPath string `yaml:"model_path" desc:"Path to the ggml model file."`
	Language  string `yaml:"language" desc:"Default transcription language." default:"en"`
}

// VoskWSConfig configures the Vosk websocket server provider.
type VoskWSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" desc:"Vosk server websocket URL." default:"ws://localhost:2700"`
}

// ── Text processor ─────────────────────────────────────────────────────────

// TextProcessorConfig configures the text-normalisation component.
type TextProcessorConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         TextProcessorProviders `yaml:"providers"`
}

// TextProcessorProviders holds one sub-config per known normaliser.
type TextProcessorProviders struct {
	Basic BasicTextProcConfig `yaml:"basic"`
}

// BasicTextProcConfig configures the rule-based normaliser.
type BasicTextProcConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ── NLU ────────────────────────────────────────────────────────────────────

// NLUConfig configures the intent-recognition component.
type NLUConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         NLUProviders `yaml:"providers"`
}

// NLUProviders holds one sub-config per known NLU provider.
type NLUProviders struct {
	Keyword KeywordNLUConfig `yaml:"keyword"`
}

// KeywordNLUConfig configures the phonetic keyword matcher.
type KeywordNLUConfig struct {
	Enabled           bool            `yaml:"enabled"`
	PhoneticThreshold float64         `yaml:"phonetic_threshold" desc:"Minimum similarity for phonetically-matched keywords." default:"0.70" min:"0" max:"1"`
	FuzzyThreshold    float64         `yaml:"fuzzy_threshold" desc:"Minimum similarity for keywords without phonetic overlap." default:"0.85" min:"0" max:"1"`
	Patterns          []IntentPattern `yaml:"patterns" desc:"Recognisable intent patterns."`
}

// IntentPattern declares one recognisable intent for the keyword matcher.
type IntentPattern struct {
	Name      string              `yaml:"name" desc:"Dotted intent name (domain.action)."`
	Keywords  []string            `yaml:"keywords" desc:"Words or phrases signalling this intent."`
	Slots     map[string][]string `yaml:"slots" desc:"Slot name to closed vocabulary."`
	Languages []string            `yaml:"languages" desc:"Restrict to these BCP-47 codes; empty means all."`
}

// ── Intent system ──────────────────────────────────────────────────────────

// IntentSystemConfig configures handler registration and dispatch.
type IntentSystemConfig struct {
	// Handlers lists the handler names to activate at startup.
	Handlers []string `yaml:"handlers" desc:"Intent handlers activated at startup."`

	// FallbackHandler serves intents no other handler claims.
	FallbackHandler string `yaml:"fallback_handler" desc:"Handler of last resort." default:"conversation"`

	// HandlerDeadline bounds a single handler invocation.
	HandlerDeadline time.Duration `yaml:"handler_deadline" desc:"Per-intent handler deadline." default:"30s"`

	// ActionPolicies decides what happens when a domain already runs a
	// background action. Unlisted domains reject the newcomer.
	ActionPolicies map[string]string `yaml:"action_policies" desc:"Per-domain background action conflict policy: reject or replace." options:"reject,replace"`
}

// ── LLM ────────────────────────────────────────────────────────────────────

// LLMConfig configures the optional language-model component.
type LLMConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         LLMProviders `yaml:"providers"`
}

// LLMProviders holds one sub-config per known LLM provider.
type LLMProviders struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	AnyLLM AnyLLMConfig `yaml:"anyllm"`
}

// OpenAIConfig configures the OpenAI API provider.
type OpenAIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key" desc:"OpenAI API key. Supports ${ENV} expansion."`
	Model        string `yaml:"model" desc:"Chat model name." default:"gpt-4o-mini"`
	BaseURL      string `yaml:"base_url" desc:"Override of the default API base URL."`
	Organization string `yaml:"organization" desc:"OpenAI organization ID."`
}

// AnyLLMConfig configures the multi-backend any-llm provider.
type AnyLLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend" desc:"LLM backend." options:"openai,anthropic,gemini,ollama,deepseek,mistral,groq,llamacpp,llamafile" default:"ollama"`
	Model   string `yaml:"model" desc:"Model name for the chosen backend."`
	APIKey  string `yaml:"api_key" desc:"Backend API key. Supports ${ENV} expansion."`
	BaseURL string `yaml:"base_url" desc:"Override of the backend base URL."`
}

// ── TTS ────────────────────────────────────────────────────────────────────

// TTSConfig configures the speech-synthesis component.
type TTSConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         TTSProviders `yaml:"providers"`
}

// TTSProviders holds one sub-config per known TTS provider.
type TTSProviders struct {
	Coqui   CoquiConfig      `yaml:"coqui"`
	Console ConsoleTTSConfig `yaml:"console"`
}

// CoquiConfig configures the Coqui TTS server provider.
type CoquiConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ServerURL string `yaml:"server_url" desc:"Coqui server base URL." default:"http://localhost:5002"`
	APIMode   string `yaml:"api_mode" desc:"Server API flavour." options:"standard,xtts" default:"standard"`
	Language  string `yaml:"language" desc:"Default synthesis language." default:"en"`
}

// ConsoleTTSConfig configures the always-available console fallback.
type ConsoleTTSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ── Audio (playback) ───────────────────────────────────────────────────────

// AudioConfig configures the playback component.
type AudioConfig struct {
	ComponentSettings `yaml:",inline"`
	Providers         AudioProviders `yaml:"providers"`
}

// AudioProviders holds one sub-config per known playback provider.
type AudioProviders struct {
	Cmdline CmdlinePlaybackConfig `yaml:"cmdline"`
	Console ConsolePlaybackConfig `yaml:"console"`
}

// CmdlinePlaybackConfig configures the subprocess player.
type CmdlinePlaybackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Binary    string   `yaml:"binary" desc:"Player binary; empty probes paplay, aplay, afplay, ffplay."`
	ExtraArgs []string `yaml:"extra_args" desc:"Fixed arguments placed before the file path."`
}

// ConsolePlaybackConfig configures the console playback fallback.
type ConsolePlaybackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ── Monitoring ─────────────────────────────────────────────────────────────

// MonitoringConfig configures the metrics and health HTTP surface.
type MonitoringConfig struct {
	// ListenAddr is the TCP address for /metrics, /healthz, /readyz.
	ListenAddr string `yaml:"listen_addr" desc:"Address for the metrics and health endpoints." default:":9090"`
}

// ── NLU analysis ───────────────────────────────────────────────────────────

// NLUAnalysisConfig configures recognition-quality reporting.
type NLUAnalysisConfig struct {
	// LowConfidenceThreshold marks parses worth flagging for review.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" desc:"Parses below this confidence are counted as low-confidence." default:"0.5" min:"0" max:"1"`

	// SampleLimit bounds the retained low-confidence utterance samples.
	SampleLimit int `yaml:"sample_limit" desc:"Retained low-confidence samples." default:"100" min:"0"`
}

// ── Configuration component ────────────────────────────────────────────────

// ConfigurationConfig configures hot reload of the config file itself.
type ConfigurationConfig struct {
	// WatchInterval is the polling interval for file changes. Zero disables
	// watching.
	WatchInterval time.Duration `yaml:"watch_interval" desc:"Config file poll interval; 0 disables hot reload." default:"5s"`
}

// ── Conversation ───────────────────────────────────────────────────────────

// ConversationConfig bounds the per-session state store.
type ConversationConfig struct {
	HistoryLimit       int           `yaml:"history_limit" desc:"Retained exchanges per session." default:"50" min:"1"`
	RecentActionsLimit int           `yaml:"recent_actions_limit" desc:"Retained completed actions per session." default:"20" min:"1"`
	FailedActionsLimit int           `yaml:"failed_actions_limit" desc:"Retained failed actions per session." default:"20" min:"1"`
	SessionExpiry      time.Duration `yaml:"session_expiry" desc:"Idle time before a session is evicted." default:"30m"`

	// Archive persists expired sessions to PostgreSQL when enabled.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the PostgreSQL conversation archive.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresDSN string `yaml:"postgres_dsn" desc:"PostgreSQL connection string. Supports ${ENV} expansion."`
}

// ── Workflow ───────────────────────────────────────────────────────────────

// WorkflowConfig tunes the request pipeline.
type WorkflowConfig struct {
	// ConfidenceThreshold routes low-confidence parses to FallbackIntent.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" desc:"Minimum NLU confidence before the fallback intent is used." default:"0.4" min:"0" max:"1"`

	// FallbackIntent receives utterances below the confidence threshold.
	FallbackIntent string `yaml:"fallback_intent" desc:"Intent used for low-confidence parses." default:"conversation.chat"`

	// RequestTimeout bounds one whole request.
	RequestTimeout time.Duration `yaml:"request_timeout" desc:"End-to-end request budget." default:"60s"`

	// StageTimeouts override the per-stage defaults.
	StageTimeouts StageTimeouts `yaml:"stage_timeouts"`

	// EnhanceIntents lists intent names whose replies are LLM-enhanced even
	// when the handler does not request it.
	EnhanceIntents []string `yaml:"enhance_intents" desc:"Intents whose replies always pass through LLM enhancement."`
}

// StageTimeouts bounds individual pipeline stages. Zero means the default.
type StageTimeouts struct {
	VoiceTrigger time.Duration `yaml:"voice_trigger" desc:"Wake-word stage timeout." default:"10s"`
	ASR          time.Duration `yaml:"asr" desc:"Transcription stage timeout." default:"30s"`
	NLU          time.Duration `yaml:"nlu" desc:"Intent-recognition stage timeout." default:"5s"`
	Dispatch     time.Duration `yaml:"dispatch" desc:"Intent-dispatch stage timeout." default:"30s"`
	LLM          time.Duration `yaml:"llm" desc:"Enhancement stage timeout." default:"30s"`
	TTS          time.Duration `yaml:"tts" desc:"Synthesis stage timeout." default:"30s"`
	Audio        time.Duration `yaml:"audio" desc:"Playback stage timeout." default:"60s"`
}

// ── Tracing ────────────────────────────────────────────────────────────────

// TracingConfig configures the per-request trace recorder.
type TracingConfig struct {
	// Enabled turns recording on for requests that ask for it.
	Enabled bool `yaml:"enabled"`

	// MaxStages caps the stage records kept per request.
	MaxStages int `yaml:"max_stages" desc:"Stage records kept per request." default:"100" min:"1"`

	// MaxTotalBytes caps the whole trace payload.
	MaxTotalBytes int `yaml:"max_total_bytes" desc:"Upper bound on a trace's total payload size." default:"10485760" min:"1"`

	// MaxStringLen truncates long strings in stage payloads.
	MaxStringLen int `yaml:"max_string_len" desc:"Strings longer than this are truncated in traces." default:"2000" min:"1"`

	// MaxBinaryBytes is the largest binary blob inlined into a trace.
	MaxBinaryBytes int `yaml:"max_binary_bytes" desc:"Binary payloads above this size are sampled, not inlined." default:"1048576" min:"1"`
}
