// Package coqui provides a TTS provider backed by a locally-running Coqui TTS
// server. Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is one GET /api/tts call with URL
//     query parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is one
//     POST /tts_to_audio/ call with a JSON body; the voice catalogue comes
//     from GET /studio_speakers.
//
// Both servers operate in batch mode, one HTTP call per utterance. The WAV
// response is written verbatim to the requested output file; playback
// providers handle WAV natively so no header stripping is needed.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/MrWong99/aria/pkg/provider/tts"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "coqui"

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code sent to the server.
// Per-call SynthesisOptions take precedence. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for
// the standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider implements tts.Provider against a Coqui TTS server. Safe for
// concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New returns a Coqui TTS provider for the given server base URL, e.g.
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("coqui: serverURL must not be empty")
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("coqui: invalid serverURL %q: %w", serverURL, err)
	}

	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiMode:    APIModeStandard,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available probes the server's catalogue endpoint.
func (p *Provider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"server":   p.serverURL,
		"api_mode": string(p.apiMode),
		"offline":  true,
		"formats":  []string{"wav"},
	}
}

// SynthesizeToFile synthesises text and writes the WAV response to outPath.
func (p *Provider) SynthesizeToFile(ctx context.Context, text string, outPath string, opts types.SynthesisOptions) error {
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	var wav []byte
	var err error
	if p.apiMode == APIModeXTTS {
		wav, err = p.synthesizeXTTS(ctx, text, opts.Voice, lang)
	} else {
		wav, err = p.synthesizeStandard(ctx, text, opts.Voice, lang)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, wav, 0o600); err != nil {
		return fmt.Errorf("coqui: write %q: %w", outPath, err)
	}
	return nil
}

// ttsRequest is the JSON body of a POST /tts_to_audio/ call (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call and returns the
// WAV response.
func (p *Provider) synthesizeXTTS(ctx context.Context, text, voice, lang string) ([]byte, error) {
	body := ttsRequest{
		Text:       text,
		SpeakerWav: voice,
		Language:   lang,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// synthesizeStandard performs a single GET /api/tts request using URL query
// parameters and returns the WAV response.
func (p *Provider) synthesizeStandard(ctx context.Context, text, voice, lang string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if lang != "" {
		params.Set("language_id", lang)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// detailsResponse is a partial view of GET /details (standard mode).
type detailsResponse struct {
	Speakers []string `json:"speakers"`
	Model    struct {
		Name string `json:"name"`
	} `json:"model"`
}

// Voices implements tts.Provider. In standard mode multi-speaker models list
// each speaker; single-speaker models report one voice named after the model.
// In XTTS mode the studio speaker names are returned.
func (p *Provider) Voices(ctx context.Context) ([]string, error) {
	if p.apiMode == APIModeXTTS {
		return p.voicesXTTS(ctx)
	}
	return p.voicesStandard(ctx)
}

func (p *Provider) voicesStandard(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create details request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details: %w", err)
	}
	if len(details.Speakers) > 0 {
		voices := append([]string(nil), details.Speakers...)
		sort.Strings(voices)
		return voices, nil
	}
	if details.Model.Name != "" {
		return []string{details.Model.Name}, nil
	}
	return nil, nil
}

func (p *Provider) voicesXTTS(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+studioSpeakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create speakers request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", studioSpeakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", studioSpeakersEndpoint, resp.StatusCode)
	}

	// The XTTS server returns {"SpeakerName": {...embeddings...}, ...}.
	var speakers map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("coqui: decode speakers: %w", err)
	}
	voices := make([]string, 0, len(speakers))
	for name := range speakers {
		voices = append(voices, name)
	}
	sort.Strings(voices)
	return voices, nil
}
