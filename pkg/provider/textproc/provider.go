// Package textproc defines the Provider interface for text normalisers.
//
// Normalisers run at two points in the pipeline: on raw ASR output before
// NLU (stage "asr_output") and on reply text before synthesis (stage
// "tts_input"). Each provider declares which stages it applies to; the text
// processor component chains all applicable providers in registration order.
//
// Implementations must be safe for concurrent use.
package textproc

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/types"
)

// Provider is the abstraction over any text normaliser.
type Provider interface {
	provider.Provider

	// Normalize transforms text for the given stage and language. Providers
	// must return the input unchanged for stages they do not declare.
	Normalize(ctx context.Context, text string, stage types.NormalizerStage, language string) (string, error)

	// Stages lists the pipeline stages this normaliser applies to.
	Stages() []types.NormalizerStage
}
