// Package energy implements a voice-trigger provider that activates on
// sustained signal energy rather than a vocabulary. It is the zero-model
// fallback: any speech above the RMS threshold for long enough counts as an
// activation. Useful for push-to-talk-style setups and for testing the
// pipeline without a wake-word model.
package energy

import (
	"context"
	"math"
	"time"

	"github.com/MrWong99/aria/pkg/provider/trigger"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "energy"

const (
	// defaultRMSThreshold separates speech from background noise for
	// 16-bit PCM. Matches typical room noise floors on consumer mics.
	defaultRMSThreshold = 300.0

	// defaultActivationMs is the sustained-speech duration required
	// before the gate opens. Filters out door slams and coughs.
	defaultActivationMs = 300

	// defaultPreRollMs is how much audio preceding the activation is
	// retained and handed to ASR along with the trigger event.
	defaultPreRollMs = 1000
)

var _ trigger.Provider = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithRMSThreshold sets the RMS amplitude above which a frame counts as
// speech. Default: 300.
func WithRMSThreshold(threshold float64) Option {
	return func(p *Provider) { p.rmsThreshold = threshold }
}

// WithActivationMs sets the sustained-speech duration (ms) required to
// trigger. Default: 300 ms.
func WithActivationMs(ms int) Option {
	return func(p *Provider) { p.activationMs = ms }
}

// WithPreRollMs sets the duration (ms) of audio kept before the activation
// point. Default: 1000 ms.
func WithPreRollMs(ms int) Option {
	return func(p *Provider) { p.preRollMs = ms }
}

// Provider is an energy-gate voice trigger. Read-only after construction;
// each Detect call keeps its own state, so concurrent sessions are safe.
type Provider struct {
	rmsThreshold float64
	activationMs int
	preRollMs    int
}

// New returns an energy-gate trigger provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		rmsThreshold: defaultRMSThreshold,
		activationMs: defaultActivationMs,
		preRollMs:    defaultPreRollMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available implements provider.Provider. The gate has no external
// dependencies.
func (p *Provider) Available(context.Context) bool { return true }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"offline":       true,
		"wake_words":    []string{},
		"rms_threshold": p.rmsThreshold,
		"pre_roll_ms":   p.preRollMs,
	}
}

// WakeWords implements trigger.Provider. Energy gating has no vocabulary.
func (p *Provider) WakeWords() []string { return nil }

// Detect consumes frames until speech is sustained past the activation
// window, the stream closes, or ctx is cancelled. On activation the event
// carries the pre-roll buffer so the opening phoneme reaches ASR.
func (p *Provider) Detect(ctx context.Context, frames <-chan types.AudioFrame) (types.TriggerEvent, error) {
	var (
		preRoll    []types.AudioFrame
		preRollMs  int
		speechMs   int
	)

	for {
		select {
		case <-ctx.Done():
			return types.TriggerEvent{}, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return types.TriggerEvent{Timestamp: time.Now()}, nil
			}

			dur := frameDurationMs(frame)

			// Maintain the pre-roll ring: append, then evict from the
			// front while over budget.
			preRoll = append(preRoll, frame)
			preRollMs += dur
			for len(preRoll) > 1 && preRollMs-frameDurationMs(preRoll[0]) >= p.preRollMs {
				preRollMs -= frameDurationMs(preRoll[0])
				preRoll = preRoll[1:]
			}

			if rms(frame.Data) >= p.rmsThreshold {
				speechMs += dur
			} else {
				speechMs = 0
			}

			if speechMs >= p.activationMs {
				event := types.TriggerEvent{
					Triggered:  true,
					Confidence: 1.0,
					PreRoll:    append([]types.AudioFrame(nil), preRoll...),
					Timestamp:  time.Now(),
				}
				return event, nil
			}
		}
	}
}

// frameDurationMs derives the frame's duration from its PCM payload.
func frameDurationMs(frame types.AudioFrame) int {
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return 0
	}
	samples := len(frame.Data) / 2 / frame.Channels
	return samples * 1000 / frame.SampleRate
}

// rms computes the root-mean-square amplitude of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
