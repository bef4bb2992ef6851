// Package cmdline implements a playback provider that shells out to a system
// media player (aplay, paplay, afplay, ffplay). It is the default audio
// backend on desktop installs: no CGO, no sound-server bindings, and the
// player binary doubles as the availability probe.
package cmdline

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/MrWong99/aria/pkg/audio"
	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/provider/playback"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "cmdline"

// candidates are probed in order when no binary is configured.
var candidates = []string{"paplay", "aplay", "afplay", "ffplay"}

var _ playback.Provider = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithBinary pins the player binary instead of probing the candidate list.
func WithBinary(bin string) Option {
	return func(p *Provider) { p.binary = bin }
}

// WithExtraArgs appends fixed arguments before the file path (e.g.
// "-nodisp", "-autoexit" for ffplay).
func WithExtraArgs(args ...string) Option {
	return func(p *Provider) { p.extraArgs = args }
}

// Provider plays audio files through an external player subprocess.
type Provider struct {
	binary    string
	extraArgs []string

	mu      sync.Mutex
	current *exec.Cmd
}

// New returns a cmdline playback provider. When no binary is pinned, the
// first player found on PATH is used.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	if p.binary == "" {
		for _, c := range candidates {
			if _, err := exec.LookPath(c); err == nil {
				p.binary = c
				break
			}
		}
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available reports whether the player binary exists on PATH.
func (p *Provider) Available(context.Context) bool {
	if p.binary == "" {
		return false
	}
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"binary":  p.binary,
		"formats": []string{"wav", "mp3", "ogg", "flac"},
		"offline": true,
	}
}

// PlayFile runs the player with path as its final argument and blocks until
// it exits. Cancelling ctx kills the subprocess.
func (p *Provider) PlayFile(ctx context.Context, path string, _ types.PlaybackOptions) error {
	if p.binary == "" {
		return fmt.Errorf("cmdline playback: no player binary found: %w", provider.ErrUnavailable)
	}

	args := append(append([]string{}, p.extraArgs...), path)
	cmd := exec.CommandContext(ctx, p.binary, args...)

	p.mu.Lock()
	p.current = cmd
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("cmdline playback: %s %q: %w", p.binary, path, err)
	}
	return nil
}

// PlayStream pipes raw PCM into the player's stdin. Only players that accept
// stdin input work here (aplay, paplay); configure WithExtraArgs to describe
// the PCM layout for the chosen player.
func (p *Provider) PlayStream(ctx context.Context, stream <-chan []byte, format audio.Format, _ types.PlaybackOptions) error {
	if p.binary == "" {
		return fmt.Errorf("cmdline playback: no player binary found: %w", provider.ErrUnavailable)
	}

	args := append(append([]string{}, p.extraArgs...),
		"--rate", fmt.Sprint(format.SampleRate),
		"--channels", fmt.Sprint(format.Channels),
	)
	cmd := exec.CommandContext(ctx, p.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("cmdline playback: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cmdline playback: start %s: %w", p.binary, err)
	}

	p.mu.Lock()
	p.current = cmd
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = stdin.Close()
			_ = cmd.Wait()
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				_ = stdin.Close()
				if err := cmd.Wait(); err != nil && ctx.Err() == nil {
					return fmt.Errorf("cmdline playback: %s: %w", p.binary, err)
				}
				return ctx.Err()
			}
			if _, err := stdin.Write(chunk); err != nil {
				_ = cmd.Wait()
				return fmt.Errorf("cmdline playback: write pcm: %w", err)
			}
		}
	}
}

// Stop kills the in-flight player subprocess, if any.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Process != nil {
		return p.current.Process.Kill()
	}
	return nil
}
