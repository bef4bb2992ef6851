package component

import (
	"context"
	"errors"

	"github.com/MrWong99/aria/pkg/provider/trigger"
	"github.com/MrWong99/aria/pkg/types"
)

// VoiceTrigger is the wake-word component.
type VoiceTrigger struct {
	host *Host[trigger.Provider]
}

// NewVoiceTrigger returns an uninitialised VoiceTrigger component.
func NewVoiceTrigger() *VoiceTrigger { return &VoiceTrigger{} }

var _ Component = (*VoiceTrigger)(nil)

func (v *VoiceTrigger) Name() string                  { return "voice_trigger" }
func (v *VoiceTrigger) Dependencies() []string        { return nil }
func (v *VoiceTrigger) ServiceDependencies() []string { return nil }
func (v *VoiceTrigger) Optional() bool                { return false }

func (v *VoiceTrigger) Initialize(ctx context.Context, core *Core) error {
	v.host = NewHost[trigger.Provider]("voice_trigger", core.Cfg.VoiceTrigger.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "voice_trigger") {
		v.host.AddProvider(name, func() (trigger.Provider, error) {
			return core.Registry.CreateTrigger(core.Cfg, name)
		})
	}
	return v.host.Init(ctx)
}

func (v *VoiceTrigger) IsHealthy(ctx context.Context) bool {
	return v.host != nil && v.host.IsAvailable(ctx)
}

func (v *VoiceTrigger) Shutdown(ctx context.Context) error {
	if v.host == nil {
		return nil
	}
	return v.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (v *VoiceTrigger) SetDefaultProvider(name string) error {
	if v.host == nil {
		return ErrDisabled
	}
	return v.host.SetDefaultProvider(name)
}

// WakeWords aggregates the wake words of every loaded provider.
func (v *VoiceTrigger) WakeWords() []string {
	if v.host == nil {
		return nil
	}
	var words []string
	v.host.EachLoaded(func(name string, p trigger.Provider) {
		words = append(words, p.WakeWords()...)
	})
	return words
}

// Detect watches frames for an activation. The stream is consumed by the
// first selected provider; there is no cross-provider retry on a live
// stream.
func (v *VoiceTrigger) Detect(ctx context.Context, frames <-chan types.AudioFrame) (types.TriggerEvent, error) {
	if v.host == nil {
		return types.TriggerEvent{}, ErrDisabled
	}
	consumed := false
	return ExecuteWithResult(ctx, v.host, pinnedFrom(ctx), func(ctx context.Context, p trigger.Provider) (types.TriggerEvent, error) {
		if consumed {
			return types.TriggerEvent{}, errors.New("stream already consumed")
		}
		consumed = true
		return p.Detect(ctx, frames)
	})
}
