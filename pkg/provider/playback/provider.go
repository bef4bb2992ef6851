// Package playback defines the Provider interface for audio output backends.
//
// A playback provider takes a synthesised audio file (or a PCM stream) and
// renders it on an output device: a system media player subprocess, a sound
// server, or the console fallback that only logs. The workflow engine pairs
// every TTS synthesis with exactly one playback call and deletes the
// temporary file afterwards.
//
// Implementations must be safe for concurrent use.
package playback

import (
	"context"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Provider is the abstraction over any audio output backend.
type Provider interface {
	provider.Provider

	// PlayFile plays the audio file at path and blocks until playback
	// finishes or ctx is cancelled. The file is owned by the caller; the
	// provider must not delete it.
	PlayFile(ctx context.Context, path string, opts types.PlaybackOptions) error

	// PlayStream plays raw PCM from stream until it closes or ctx is
	// cancelled. format describes the PCM layout of the stream.
	PlayStream(ctx context.Context, stream <-chan []byte, format audio.Format, opts types.PlaybackOptions) error

	// Stop aborts any in-flight playback started by this provider. It is
	// safe to call when nothing is playing.
	Stop() error
}
