// Package asr defines the Provider interface for speech-recognition backends.
//
// An ASR provider consumes a PCM frame stream — pre-roll first, then the
// post-trigger tail — and produces one final [types.Transcript] per request.
// Streaming backends (a Vosk websocket server) transcribe incrementally;
// batch backends (whisper.cpp) buffer the stream and transcribe once it ends.
// Both present the same stream-in / transcript-out surface.
//
// Implementations must be safe for concurrent use; each Transcribe call is an
// independent session.
package asr

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Options carries per-call recognition hints.
type Options struct {
	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect, when supported.
	Language string
}

// Provider is the abstraction over any ASR backend.
type Provider interface {
	provider.Provider

	// Transcribe consumes frames until the channel closes or ctx is
	// cancelled, then returns the final transcript for the whole utterance.
	// Frames are expected in the canonical ASR format (16 kHz mono int16
	// PCM, see audio.ASRFormat); callers convert before sending.
	//
	// Returns provider.ErrUnavailable (possibly wrapped) when the backend
	// cannot transcribe right now, so the component can fail over.
	Transcribe(ctx context.Context, frames <-chan types.AudioFrame, opts Options) (types.Transcript, error)
}
