// Package console implements a playback provider of last resort: it prints
// the content of the "audio" artefact instead of playing it. Together with
// the console TTS provider it keeps voice responses observable on machines
// without a sound device.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider/playback"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "console"

var _ playback.Provider = (*Provider)(nil)

// Provider is the console playback fallback. Always available.
type Provider struct{}

// New returns a console playback provider.
func New() *Provider {
	return &Provider{}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available implements provider.Provider.
func (p *Provider) Available(context.Context) bool { return true }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"output":  "log",
		"offline": true,
	}
}

// PlayFile prints the file content when it is text (console TTS artefacts),
// otherwise logs the byte count. The file stays owned by the caller.
func (p *Provider) PlayFile(ctx context.Context, path string, _ types.PlaybackOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("console playback: read %q: %w", path, err)
	}
	if utf8.Valid(data) {
		slog.Info("console playback", "text", string(data))
	} else {
		slog.Info("console playback", "bytes", len(data))
	}
	return nil
}

// PlayStream drains the stream, logging the total byte count.
func (p *Provider) PlayStream(ctx context.Context, stream <-chan []byte, _ audio.Format, _ types.PlaybackOptions) error {
	total := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				slog.Info("console playback stream done", "bytes", total)
				return nil
			}
			total += len(chunk)
		}
	}
}

// Stop implements playback.Provider. Nothing to stop.
func (p *Provider) Stop() error { return nil }
