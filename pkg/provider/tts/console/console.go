// Package console implements a TTS provider of last resort: instead of
// synthesising speech it writes the reply text to the output path and logs
// it. Paired with the console playback provider it keeps the full pipeline
// runnable on machines without any speech stack, which is why components may
// force-include it as an always-available fallback.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/aria/pkg/provider/tts"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "console"

var _ tts.Provider = (*Provider)(nil)

// Provider is the console TTS fallback. It has no external dependencies and
// is always available.
type Provider struct{}

// New returns a console TTS provider.
func New() *Provider {
	return &Provider{}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available implements provider.Provider. The console is always available.
func (p *Provider) Available(context.Context) bool { return true }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"output":  "text",
		"voices":  []string{},
		"offline": true,
	}
}

// SynthesizeToFile writes text to outPath and logs it. The artefact is plain
// UTF-8 text, not audio; the console playback provider prints it.
func (p *Provider) SynthesizeToFile(ctx context.Context, text string, outPath string, _ types.SynthesisOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, []byte(text), 0o600); err != nil {
		return fmt.Errorf("console tts: write %q: %w", outPath, err)
	}
	slog.Info("console tts", "text", text)
	return nil
}

// Voices implements tts.Provider. The console has no voices.
func (p *Provider) Voices(context.Context) ([]string, error) {
	return nil, nil
}
