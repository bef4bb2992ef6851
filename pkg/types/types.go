// Package types defines the shared types used across all Aria packages.
//
// These types form the lingua franca between providers, components, the
// workflow engine, and the conversation store. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from
// input streams, gated by the voice trigger, decoded by codecs, and consumed
// by ASR providers.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for ASR-optimised mono, 48000 for Opus
	// decode output).
	SampleRate int

	// Channels: 1 for mono (ASR input), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an ASR provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Language is the BCP-47 language tag the provider recognised, if known.
	Language string

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Intent is the structured result of natural-language understanding for one
// utterance. Intents are immutable after creation: NLU providers build them,
// the intent registry dispatches them, handlers consume them.
type Intent struct {
	// Name is the dotted intent identifier in domain.action form
	// (e.g., "timer.set", "conversation.general").
	Name string

	// Confidence is the NLU confidence in [0, 1].
	Confidence float64

	// Slots holds the extracted parameters (e.g., "duration" → "5m").
	Slots map[string]string

	// RawText is the original utterance the intent was parsed from.
	RawText string

	// Language is the BCP-47 language tag of the utterance.
	Language string
}

// Domain returns the part of the intent name before the first dot, or the
// whole name if it contains no dot.
func (i Intent) Domain() string {
	for j := 0; j < len(i.Name); j++ {
		if i.Name[j] == '.' {
			return i.Name[:j]
		}
	}
	return i.Name
}

// IntentResult is produced by an intent handler and carried back through the
// workflow to the caller. The workflow also synthesises IntentResults for
// failures so that errors never cross the pipeline boundary as panics.
type IntentResult struct {
	// Text is the assistant's reply, fed to TTS when speech is requested.
	Text string

	// Success reports whether the handler completed its task.
	Success bool

	// Confidence mirrors the intent confidence the handler acted on.
	Confidence float64

	// ShouldSpeak indicates whether Text should be synthesised even when the
	// caller asked for audio. Handlers set this to false for silent actions.
	ShouldSpeak bool

	// Metadata carries structured details: error kinds, provider names,
	// enhancement flags. Keys are stable identifiers, values JSON-encodable.
	Metadata map[string]any

	// Error is a short machine-readable failure description. Empty on success.
	Error string
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ExchangeEntry is a complete request/response record appended to the
// conversation history. It is the atomic unit of session memory.
type ExchangeEntry struct {
	// Role is "user" for incoming utterances and "assistant" for replies.
	Role string

	// Text is the (possibly normalised) utterance or reply text.
	Text string

	// RawText is the original unprocessed input. Preserved for debugging.
	RawText string

	// IntentName is the dotted intent that handled this exchange, if any.
	IntentName string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time
}

// ConversationSnapshot is a read-only view of a conversation context that is
// safe to hand to providers and the trace recorder. It contains bounded
// excerpts only — never credentials or raw client metadata.
type ConversationSnapshot struct {
	// SessionID identifies the session the snapshot was taken from.
	SessionID string

	// Language is the session's conversation language.
	Language string

	// RoomName is the client-declared room or channel, if any.
	RoomName string

	// RecentHistory holds the most recent exchanges (bounded, newest last).
	RecentHistory []ExchangeEntry

	// ActiveDomains lists domains that currently have a running background
	// action (e.g., "timer").
	ActiveDomains []string

	// HistoryLen is the total history length at snapshot time.
	HistoryLen int
}

// TriggerEvent is emitted by a voice-trigger provider when it decides the
// incoming stream contains (or does not contain) an activation.
type TriggerEvent struct {
	// Triggered is true when an activation was detected.
	Triggered bool

	// WakeWord names the detected wake word, when the provider knows it.
	WakeWord string

	// Confidence is the detection confidence in [0, 1].
	Confidence float64

	// PreRoll holds audio captured immediately before the activation point.
	// It is prepended to the post-trigger stream so ASR recovers the opening
	// phoneme.
	PreRoll []AudioFrame

	// Timestamp marks the activation point relative to stream start.
	Timestamp time.Duration
}

// SynthesisOptions carries per-call TTS parameters.
type SynthesisOptions struct {
	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string

	// Language is the BCP-47 language tag for synthesis.
	Language string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 = provider default).
	SpeedFactor float64
}

// PlaybackOptions carries per-call audio output parameters.
type PlaybackOptions struct {
	// Device selects an output device. Empty selects the system default.
	Device string

	// Volume in [0, 1]. Zero means provider default.
	Volume float64
}

// NormalizerStage tags the pipeline position a text normaliser applies to.
type NormalizerStage string

const (
	// StageASROutput normalises raw transcripts before NLU.
	StageASROutput NormalizerStage = "asr_output"

	// StageTTSInput prepares reply text for synthesis.
	StageTTSInput NormalizerStage = "tts_input"
)
