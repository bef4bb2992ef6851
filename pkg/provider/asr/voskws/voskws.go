// Package voskws implements an ASR provider that streams audio to a Vosk
// websocket server (alphacep/vosk-server). Vosk runs fully offline and the
// server protocol is tiny: one JSON config message, binary PCM chunks, an
// {"eof": 1} terminator, JSON results back.
package voskws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "voskws"

const (
	defaultURL = "ws://localhost:2700"

	// availableTimeout bounds the dial used as the availability probe.
	availableTimeout = 2 * time.Second
)

var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithURL sets the Vosk server websocket URL. Defaults to ws://localhost:2700.
func WithURL(u string) Option {
	return func(p *Provider) { p.url = u }
}

// WithHTTPClient sets the HTTP client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements asr.Provider against a Vosk websocket server.
type Provider struct {
	url        string
	httpClient *http.Client
}

// New returns a Vosk websocket ASR provider.
func New(opts ...Option) *Provider {
	p := &Provider{url: defaultURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available dials the server and immediately closes the connection. A Vosk
// server that accepts the websocket handshake is considered reachable.
func (p *Provider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availableTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return false
	}
	_ = conn.Close(websocket.StatusNormalClosure, "availability probe")
	return true
}

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"url":       p.url,
		"offline":   true,
		"streaming": true,
	}
}

// voskConfig is the first message sent on a Vosk streaming session.
type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

// voskResult is the JSON structure the server returns. Partial hypotheses
// carry only "partial"; final chunks carry "text" plus per-word results.
type voskResult struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
	Result  []struct {
		Word  string  `json:"word"`
		Conf  float64 `json:"conf"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"result"`
}

// Transcribe streams the frames to the Vosk server and returns the combined
// final transcript once the stream closes. Frames are converted to 16 kHz
// mono PCM before upload.
func (p *Provider) Transcribe(ctx context.Context, frames <-chan types.AudioFrame, opts asr.Options) (types.Transcript, error) {
	conn, _, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("voskws: dial %q: %w", p.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "transcription complete")

	// Vosk accepts large PCM chunks; raise the default read limit so long
	// final results are not rejected either.
	conn.SetReadLimit(1 << 20)

	var cfg voskConfig
	cfg.Config.SampleRate = audio.ASRFormat.SampleRate
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("voskws: marshal config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, cfgJSON); err != nil {
		return types.Transcript{}, fmt.Errorf("voskws: send config: %w", err)
	}

	// Reader goroutine: accumulate final chunk texts, track the mean
	// word confidence across all finals.
	type readOutcome struct {
		text       string
		confidence float64
		err        error
	}
	results := make(chan readOutcome, 1)
	go func() {
		var parts []string
		var confSum float64
		var confN int
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Normal closure after eof means the server is done.
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
					err = nil
				}
				out := readOutcome{text: strings.Join(parts, " "), err: err}
				if confN > 0 {
					out.confidence = confSum / float64(confN)
				}
				results <- out
				return
			}
			var res voskResult
			if err := json.Unmarshal(data, &res); err != nil {
				results <- readOutcome{err: fmt.Errorf("voskws: decode result: %w", err)}
				return
			}
			if res.Text != "" {
				parts = append(parts, res.Text)
				for _, w := range res.Result {
					confSum += w.Conf
					confN++
				}
			}
		}
	}()

	conv := &audio.FormatConverter{Target: audio.ASRFormat}
	var totalBytes int

send:
	for {
		select {
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				break send
			}
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			totalBytes += len(converted.Data)
			if err := conn.Write(ctx, websocket.MessageBinary, converted.Data); err != nil {
				return types.Transcript{}, fmt.Errorf("voskws: send audio: %w", err)
			}
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"eof" : 1}`)); err != nil {
		return types.Transcript{}, fmt.Errorf("voskws: send eof: %w", err)
	}

	select {
	case <-ctx.Done():
		return types.Transcript{}, ctx.Err()
	case out := <-results:
		if out.err != nil {
			return types.Transcript{}, fmt.Errorf("voskws: read results: %w", out.err)
		}
		durMs := totalBytes / 2 * 1000 / audio.ASRFormat.SampleRate
		lang := opts.Language
		return types.Transcript{
			Text:       out.text,
			IsFinal:    true,
			Confidence: out.confidence,
			Language:   lang,
			Timestamp:  time.Now(),
			Duration:   time.Duration(durMs) * time.Millisecond,
		}, nil
	}
}
