// Package nlu defines the Provider interface for natural-language
// understanding backends.
//
// An NLU provider turns a normalised utterance into a [types.Intent] with a
// confidence score. Providers range from in-process keyword matchers to
// external model servers; the intent registry downstream only sees the
// resulting intent, never the provider.
//
// Implementations must be safe for concurrent use.
package nlu

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Provider is the abstraction over any NLU backend.
type Provider interface {
	provider.Provider

	// Parse extracts an intent from text. conv carries a bounded read-only
	// view of the conversation so context-sensitive providers can resolve
	// follow-ups ("cancel it" → the active domain's cancel intent).
	//
	// A provider that cannot find any intent returns an intent with zero
	// confidence rather than an error; errors are reserved for backend
	// failures.
	Parse(ctx context.Context, text string, language string, conv types.ConversationSnapshot) (types.Intent, error)
}
