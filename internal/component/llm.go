package component

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/types"
)

// LLM is the optional language-model enrichment component.
type LLM struct {
	host *Host[llm.Provider]
}

// NewLLM returns an uninitialised LLM component.
func NewLLM() *LLM { return &LLM{} }

var _ Component = (*LLM)(nil)

func (l *LLM) Name() string           { return "llm" }
func (l *LLM) Dependencies() []string { return nil }

func (l *LLM) ServiceDependencies() []string {
	if l.host == nil {
		return nil
	}
	var deps []string
	for _, name := range l.host.Providers() {
		switch name {
		case "openai":
			deps = append(deps, "openai-api")
		case "anyllm":
			deps = append(deps, "llm-backend")
		}
	}
	return deps
}

// Optional: the pipeline degrades gracefully without enrichment.
func (l *LLM) Optional() bool { return true }

func (l *LLM) Initialize(ctx context.Context, core *Core) error {
	l.host = NewHost[llm.Provider]("llm", core.Cfg.LLM.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "llm") {
		l.host.AddProvider(name, func() (llm.Provider, error) {
			return core.Registry.CreateLLM(core.Cfg, name)
		})
	}
	return l.host.Init(ctx)
}

func (l *LLM) IsHealthy(ctx context.Context) bool {
	return l.host != nil && l.host.IsAvailable(ctx)
}

func (l *LLM) Shutdown(ctx context.Context) error {
	if l.host == nil {
		return nil
	}
	return l.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (l *LLM) SetDefaultProvider(name string) error {
	if l.host == nil {
		return ErrDisabled
	}
	return l.host.SetDefaultProvider(name)
}

// EnhanceText applies task to text. Callers fall back to the input text on
// error.
func (l *LLM) EnhanceText(ctx context.Context, text, task string, opts llm.Options) (string, error) {
	if l.host == nil {
		return "", ErrDisabled
	}
	return ExecuteWithResult(ctx, l.host, pinnedFrom(ctx), func(ctx context.Context, p llm.Provider) (string, error) {
		return p.EnhanceText(ctx, text, task, opts)
	})
}

// Chat sends the conversation to the model and returns the assistant reply.
func (l *LLM) Chat(ctx context.Context, messages []types.Message, opts llm.Options) (string, error) {
	if l.host == nil {
		return "", ErrDisabled
	}
	return ExecuteWithResult(ctx, l.host, pinnedFrom(ctx), func(ctx context.Context, p llm.Provider) (string, error) {
		return p.Chat(ctx, messages, opts)
	})
}
