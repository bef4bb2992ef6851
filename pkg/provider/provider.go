// Package provider defines the base contract shared by every capability
// backend in Aria.
//
// Each capability kind (TTS, audio playback, ASR, NLU, LLM, voice trigger,
// text processing) refines this contract in its own sub-package with the
// capability methods. Components in internal/component own sets of providers
// of one kind and perform selection, fallback, and hot-switching; providers
// themselves stay stateless-looking and safe for concurrent use.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by capability methods when the backend cannot be
// used right now (service down, model not loaded, device missing). Components
// react by advancing along their configured fallback chain.
var ErrUnavailable = errors.New("provider: unavailable")

// Provider is the base contract every capability backend implements.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the stable provider identifier used in configuration
	// (e.g., "console", "whispercpp", "vosk_ws").
	Name() string

	// Available reports whether the provider can currently serve requests.
	// It is called at component init and on periodic probes; a provider that
	// reports false must not be selected for a call.
	Available(ctx context.Context) bool

	// Capabilities returns provider metadata (supported formats, voices,
	// models, wake words). Values must be JSON-serialisable.
	Capabilities() map[string]any
}
