package component

import (
	"context"
	"log/slog"
	"slices"

	"github.com/MrWong99/aria/pkg/provider/textproc"
	"github.com/MrWong99/aria/pkg/types"
)

// TextProcessor is the text-normalisation component. Unlike the other
// capability components it does not select one provider per call: every
// provider that declares the requested stage runs, chained in host order.
type TextProcessor struct {
	host *Host[textproc.Provider]
}

// NewTextProcessor returns an uninitialised TextProcessor component.
func NewTextProcessor() *TextProcessor { return &TextProcessor{} }

var _ Component = (*TextProcessor)(nil)

func (t *TextProcessor) Name() string                  { return "text_processor" }
func (t *TextProcessor) Dependencies() []string        { return nil }
func (t *TextProcessor) ServiceDependencies() []string { return nil }
func (t *TextProcessor) Optional() bool                { return true }

func (t *TextProcessor) Initialize(ctx context.Context, core *Core) error {
	t.host = NewHost[textproc.Provider]("text_processor", core.Cfg.TextProcessor.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "text_processor") {
		t.host.AddProvider(name, func() (textproc.Provider, error) {
			return core.Registry.CreateTextProc(core.Cfg, name)
		})
	}
	return t.host.Init(ctx)
}

func (t *TextProcessor) IsHealthy(ctx context.Context) bool {
	return t.host != nil && t.host.IsAvailable(ctx)
}

func (t *TextProcessor) Shutdown(ctx context.Context) error {
	if t.host == nil {
		return nil
	}
	return t.host.Shutdown(ctx)
}

// Process runs text through every normaliser that declares stage, in host
// order. A failing normaliser is skipped; its input passes through to the
// next.
func (t *TextProcessor) Process(ctx context.Context, text string, stage types.NormalizerStage, language string) (string, error) {
	if t.host == nil {
		return text, nil
	}

	for _, name := range t.host.Providers() {
		p, err := t.host.Get(ctx, name)
		if err != nil {
			continue
		}
		if !slices.Contains(p.Stages(), stage) {
			continue
		}
		out, err := p.Normalize(ctx, text, stage, language)
		if err != nil {
			slog.Warn("normaliser failed, passing text through",
				"provider", name, "stage", stage, "err", err)
			continue
		}
		text = out
	}
	return text, nil
}
