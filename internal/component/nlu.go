package component

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider/nlu"
	"github.com/MrWong99/aria/pkg/types"
)

// NLU is the intent-recognition component.
type NLU struct {
	host *Host[nlu.Provider]
}

// NewNLU returns an uninitialised NLU component.
func NewNLU() *NLU { return &NLU{} }

var _ Component = (*NLU)(nil)

func (n *NLU) Name() string                  { return "nlu" }
func (n *NLU) Dependencies() []string        { return nil }
func (n *NLU) ServiceDependencies() []string { return nil }
func (n *NLU) Optional() bool                { return false }

func (n *NLU) Initialize(ctx context.Context, core *Core) error {
	n.host = NewHost[nlu.Provider]("nlu", core.Cfg.NLU.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "nlu") {
		n.host.AddProvider(name, func() (nlu.Provider, error) {
			return core.Registry.CreateNLU(core.Cfg, name)
		})
	}
	return n.host.Init(ctx)
}

func (n *NLU) IsHealthy(ctx context.Context) bool {
	return n.host != nil && n.host.IsAvailable(ctx)
}

func (n *NLU) Shutdown(ctx context.Context) error {
	if n.host == nil {
		return nil
	}
	return n.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (n *NLU) SetDefaultProvider(name string) error {
	if n.host == nil {
		return ErrDisabled
	}
	return n.host.SetDefaultProvider(name)
}

// Parse extracts an intent from a normalised utterance.
func (n *NLU) Parse(ctx context.Context, text, language string, conv types.ConversationSnapshot) (types.Intent, error) {
	if n.host == nil {
		return types.Intent{}, ErrDisabled
	}
	return ExecuteWithResult(ctx, n.host, pinnedFrom(ctx), func(ctx context.Context, p nlu.Provider) (types.Intent, error) {
		return p.Parse(ctx, text, language, conv)
	})
}
