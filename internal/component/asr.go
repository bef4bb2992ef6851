package component

import (
	"context"
	"errors"

	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/types"
)

// ASR is the speech-recognition component.
type ASR struct {
	host *Host[asr.Provider]
}

// NewASR returns an uninitialised ASR component.
func NewASR() *ASR { return &ASR{} }

var _ Component = (*ASR)(nil)

func (a *ASR) Name() string           { return "asr" }
func (a *ASR) Dependencies() []string { return nil }

func (a *ASR) ServiceDependencies() []string {
	if a.host == nil {
		return nil
	}
	for _, name := range a.host.Providers() {
		if name == "voskws" {
			return []string{"vosk-server"}
		}
	}
	return nil
}

func (a *ASR) Optional() bool { return false }

func (a *ASR) Initialize(ctx context.Context, core *Core) error {
	a.host = NewHost[asr.Provider]("asr", core.Cfg.ASR.ComponentSettings, core.Metrics)
	for _, name := range OrderedProviders(core.Cfg, "asr") {
		a.host.AddProvider(name, func() (asr.Provider, error) {
			return core.Registry.CreateASR(core.Cfg, name)
		})
	}
	return a.host.Init(ctx)
}

func (a *ASR) IsHealthy(ctx context.Context) bool {
	return a.host != nil && a.host.IsAvailable(ctx)
}

func (a *ASR) Shutdown(ctx context.Context) error {
	if a.host == nil {
		return nil
	}
	return a.host.Shutdown(ctx)
}

// SetDefaultProvider switches the provider tried first.
func (a *ASR) SetDefaultProvider(name string) error {
	if a.host == nil {
		return ErrDisabled
	}
	return a.host.SetDefaultProvider(name)
}

// Transcribe consumes frames to a final transcript. A live stream cannot be
// rewound, so only the first selected provider gets to consume it; use
// [ASR.TranscribeBuffer] when retrying across providers matters.
func (a *ASR) Transcribe(ctx context.Context, frames <-chan types.AudioFrame, opts asr.Options) (types.Transcript, error) {
	if a.host == nil {
		return types.Transcript{}, ErrDisabled
	}
	consumed := false
	return ExecuteWithResult(ctx, a.host, pinnedFrom(ctx), func(ctx context.Context, p asr.Provider) (types.Transcript, error) {
		if consumed {
			return types.Transcript{}, errors.New("stream already consumed")
		}
		consumed = true
		return p.Transcribe(ctx, frames, opts)
	})
}

// TranscribeBuffer transcribes a fully buffered utterance. Because the
// frames are replayable, every provider in the fallback chain gets a fresh
// copy of the stream.
func (a *ASR) TranscribeBuffer(ctx context.Context, frames []types.AudioFrame, opts asr.Options) (types.Transcript, error) {
	if a.host == nil {
		return types.Transcript{}, ErrDisabled
	}
	return ExecuteWithResult(ctx, a.host, pinnedFrom(ctx), func(ctx context.Context, p asr.Provider) (types.Transcript, error) {
		ch := make(chan types.AudioFrame, len(frames))
		for _, f := range frames {
			ch <- f
		}
		close(ch)
		return p.Transcribe(ctx, ch, opts)
	})
}
