// Package llm defines the Provider interface for large-language-model
// backends.
//
// In Aria the LLM is an optional enrichment stage: handlers or the
// post-processing policy may ask it to adjust tone, translate, or summarise a
// reply, and the conversation fallback handler uses it for open-ended chat.
// The pipeline degrades gracefully without it.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Well-known enhancement tasks. Providers treat unknown tasks as free-form
// instructions.
const (
	TaskRephrase  = "rephrase"
	TaskTranslate = "translate"
	TaskSummarize = "summarize"
)

// Options carries per-call generation parameters.
type Options struct {
	// Model overrides the provider's configured model. Empty uses the default.
	Model string

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// Language is the target language for translation-style tasks.
	Language string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	provider.Provider

	// EnhanceText applies task to text and returns the adjusted text. task is
	// one of the Task* constants or a free-form instruction. On failure the
	// caller falls back to the unenhanced text.
	EnhanceText(ctx context.Context, text string, task string, opts Options) (string, error)

	// Chat sends the conversation to the model and returns the assistant
	// reply. The last message is expected to carry the "user" role.
	Chat(ctx context.Context, messages []types.Message, opts Options) (string, error)
}
