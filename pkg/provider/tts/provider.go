// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis engine (a local model server, a
// cloud API, or the console fallback) and renders reply text into an audio
// file that the audio component plays back. Synthesis is file-based: the
// workflow engine owns the output path, its uniqueness, and its cleanup.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	provider.Provider

	// SynthesizeToFile renders text as audio and writes it to outPath. The
	// caller owns outPath: it is freshly generated per request and removed by
	// the caller on every exit path. Providers must not cache or reuse it.
	//
	// Returns provider.ErrUnavailable (possibly wrapped) when the backend
	// cannot synthesise right now, so the component can fail over.
	SynthesizeToFile(ctx context.Context, text string, outPath string, opts types.SynthesisOptions) error

	// Voices lists the voice identifiers this provider can synthesise with.
	// May be empty for single-voice backends.
	Voices(ctx context.Context) ([]string, error)
}
