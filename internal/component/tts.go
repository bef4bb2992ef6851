package component

import (
	"context"

	"github.com/MrWong99/aria/pkg/provider/tts"
	"github.com/MrWong99/aria/pkg/types"
)

// TTS is the speech-synthesis component.
type TTS struct {
	host *Host[tts.Provider]
}

// NewTTS returns an uninitialised TTS component.
func NewTTS() *TTS { return &TTS{} }

var _ Component = (*TTS)(nil)

func (t *TTS) Name() string { return "tts" }

// Dependencies: synthesised files are useless without playback; the loader
// also rejects tts without audio.
func (t *TTS) Dependencies() []string { return []string{"audio"} }

func (t *TTS) ServiceDependencies() []string {
	if t.host == nil {
		return nil
	}
	for _, name := range t.host.Providers() {
		if name == "coqui" {
			return []string{"coqui-server"}
		}
	}
	return nil
}

func (t *TTS) Optional() bool { return false }

func (t *TTS) Initialize(ctx context.Context, core *Core) error {
	t.host = NewHost[tts.Provider]("tts", core.Cfg.TTS.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "tts") {
		t.host.AddProvider(name, func() (tts.Provider, error) {
			return core.Registry.CreateTTS(core.Cfg, name)
		})
	}
	return t.host.Init(ctx)
}

func (t *TTS) IsHealthy(ctx context.Context) bool {
	return t.host != nil && t.host.IsAvailable(ctx)
}

func (t *TTS) Shutdown(ctx context.Context) error {
	if t.host == nil {
		return nil
	}
	return t.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (t *TTS) SetDefaultProvider(name string) error {
	if t.host == nil {
		return ErrDisabled
	}
	return t.host.SetDefaultProvider(name)
}

// Capabilities aggregates provider metadata by provider name.
func (t *TTS) Capabilities() map[string]map[string]any {
	if t.host == nil {
		return nil
	}
	return t.host.Capabilities()
}

// SynthesizeToFile renders text into outPath using the provider selection
// chain. The caller owns outPath and its cleanup.
func (t *TTS) SynthesizeToFile(ctx context.Context, text, outPath string, opts types.SynthesisOptions) error {
	if t.host == nil {
		return ErrDisabled
	}
	return t.host.Execute(ctx, pinnedFrom(ctx), func(ctx context.Context, p tts.Provider) error {
		return p.SynthesizeToFile(ctx, text, outPath, opts)
	})
}
