// Package whispercpp implements an ASR provider backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all Transcribe
// calls; each call creates its own whisper context so concurrent requests do
// not interfere.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "whispercpp"

const (
	defaultLanguage = "en"

	// maxUtteranceMs caps the audio buffered for a single inference pass.
	// Commands longer than this are truncated rather than rejected.
	maxUtteranceMs = 30_000
)

var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Per-call asr.Options take precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithMaxUtteranceMs caps the buffered audio duration per Transcribe call.
func WithMaxUtteranceMs(ms int) Option {
	return func(p *Provider) { p.maxUtteranceMs = ms }
}

// Provider implements asr.Provider using whisper.cpp Go bindings (CGO).
type Provider struct {
	model     whisperlib.Model
	modelPath string
	language  string

	maxUtteranceMs int
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:          model,
		modelPath:      modelPath,
		language:       defaultLanguage,
		maxUtteranceMs: maxUtteranceMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available reports whether the model is loaded.
func (p *Provider) Available(context.Context) bool { return p.model != nil }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"model":     p.modelPath,
		"offline":   true,
		"streaming": false,
		"languages": []string{"multilingual"},
	}
}

// Transcribe buffers the frame stream until it closes (or ctx is cancelled),
// converts it to the 16 kHz mono format whisper expects, and runs a single
// inference pass. An empty stream yields an empty, final transcript.
func (p *Provider) Transcribe(ctx context.Context, frames <-chan types.AudioFrame, opts asr.Options) (types.Transcript, error) {
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	conv := &audio.FormatConverter{Target: audio.ASRFormat}
	maxBytes := p.maxUtteranceMs * audio.ASRFormat.SampleRate / 1000 * 2
	var pcm []byte

collect:
	for {
		select {
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				break collect
			}
			converted := conv.Convert(frame)
			if len(pcm) < maxBytes {
				pcm = append(pcm, converted.Data...)
			}
		}
	}
	if len(pcm) > maxBytes {
		pcm = pcm[:maxBytes]
	}

	durMs := len(pcm) / 2 * 1000 / audio.ASRFormat.SampleRate
	result := types.Transcript{
		IsFinal:   true,
		Language:  lang,
		Timestamp: time.Now(),
		Duration:  time.Duration(durMs) * time.Millisecond,
	}
	if len(pcm) == 0 {
		return result, nil
	}

	text, err := p.infer(ctx, pcmToFloat32Mono(pcm), lang)
	if err != nil {
		return types.Transcript{}, err
	}
	result.Text = text
	if text != "" {
		// The bindings expose no per-segment confidence; a non-empty
		// decode is reported at full confidence.
		result.Confidence = 1.0
	}
	return result, nil
}

// infer runs a single whisper.cpp inference pass over the samples. A fresh
// context is created per call so concurrent Transcribe calls share only the
// model weights.
func (p *Provider) infer(ctx context.Context, samples []float32, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whispercpp: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("whispercpp: set language %q: %w", lang, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whispercpp: process: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whispercpp: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32Mono converts 16-bit little-endian mono PCM to the normalised
// float32 samples whisper.cpp consumes.
func pcmToFloat32Mono(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
