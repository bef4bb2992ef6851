package component

import (
	"context"
	"errors"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider/playback"
	"github.com/MrWong99/aria/pkg/types"
)

// Audio is the playback component.
type Audio struct {
	host *Host[playback.Provider]
}

// NewAudio returns an uninitialised Audio component.
func NewAudio() *Audio { return &Audio{} }

var _ Component = (*Audio)(nil)

func (a *Audio) Name() string                  { return "audio" }
func (a *Audio) Dependencies() []string        { return nil }
func (a *Audio) ServiceDependencies() []string { return nil }
func (a *Audio) Optional() bool                { return false }

func (a *Audio) Initialize(ctx context.Context, core *Core) error {
	a.host = NewHost[playback.Provider]("audio", core.Cfg.Audio.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "audio") {
		a.host.AddProvider(name, func() (playback.Provider, error) {
			return core.Registry.CreatePlayback(core.Cfg, name)
		})
	}
	return a.host.Init(ctx)
}

func (a *Audio) IsHealthy(ctx context.Context) bool {
	return a.host != nil && a.host.IsAvailable(ctx)
}

func (a *Audio) Shutdown(ctx context.Context) error {
	if a.host == nil {
		return nil
	}
	_ = a.Stop()
	return a.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (a *Audio) SetDefaultProvider(name string) error {
	if a.host == nil {
		return ErrDisabled
	}
	return a.host.SetDefaultProvider(name)
}

// PlayFile plays the audio file at path, blocking until done.
func (a *Audio) PlayFile(ctx context.Context, path string, opts types.PlaybackOptions) error {
	if a.host == nil {
		return ErrDisabled
	}
	return a.host.Execute(ctx, pinnedFrom(ctx), func(ctx context.Context, p playback.Provider) error {
		return p.PlayFile(ctx, path, opts)
	})
}

// PlayStream plays raw PCM until stream closes. The stream cannot be rewound,
// so there is no fallback: the first selected provider owns the call.
func (a *Audio) PlayStream(ctx context.Context, stream <-chan []byte, format audio.Format, opts types.PlaybackOptions) error {
	if a.host == nil {
		return ErrDisabled
	}
	consumed := false
	return a.host.Execute(ctx, pinnedFrom(ctx), func(ctx context.Context, p playback.Provider) error {
		if consumed {
			return errors.New("stream already consumed")
		}
		consumed = true
		return p.PlayStream(ctx, stream, format, opts)
	})
}

// Stop aborts in-flight playback on every loaded provider.
func (a *Audio) Stop() error {
	if a.host == nil {
		return ErrDisabled
	}
	var errs []error
	a.host.EachLoaded(func(name string, p playback.Provider) {
		if err := p.Stop(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
