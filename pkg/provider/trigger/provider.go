// Package trigger defines the Provider interface for voice-trigger (wake
// word) backends.
//
// A trigger provider watches an incoming PCM frame stream and decides when
// the assistant has been addressed. Because the decision point is always a
// little late — the wake word has already been spoken by the time it is
// recognised — providers maintain a short pre-roll buffer of recent audio
// which is handed to ASR together with the post-trigger tail, so the opening
// phoneme of the command is not lost.
//
// Implementations must be safe for concurrent use; each Detect call is an
// independent listening session.
package trigger

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Provider is the abstraction over any voice-trigger backend.
type Provider interface {
	provider.Provider

	// Detect consumes frames until an activation is found, the stream
	// closes, or ctx is cancelled. On activation it returns a
	// [types.TriggerEvent] with Triggered=true and the pre-roll buffer, and
	// stops reading — the unread remainder of frames belongs to the caller
	// (it is forwarded to ASR). When the stream ends without activation the
	// event has Triggered=false.
	Detect(ctx context.Context, frames <-chan types.AudioFrame) (types.TriggerEvent, error)

	// WakeWords lists the activations this provider can detect. Providers
	// that trigger on signal properties rather than vocabulary return nil.
	WakeWords() []string
}
