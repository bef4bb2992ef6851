package energy

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/aria/pkg/types"
)

// pcmFrame builds a 20 ms 16 kHz mono frame with a constant amplitude.
func pcmFrame(amplitude int16) types.AudioFrame {
	const samples = 320 // 20 ms at 16 kHz
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		data[2*i] = byte(amplitude)
		data[2*i+1] = byte(amplitude >> 8)
	}
	return types.AudioFrame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: time.Now()}
}

func feed(frames ...types.AudioFrame) <-chan types.AudioFrame {
	ch := make(chan types.AudioFrame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

func TestDetectTriggersOnSustainedSpeech(t *testing.T) {
	p := New(WithActivationMs(60))

	var frames []types.AudioFrame
	for i := 0; i < 10; i++ {
		frames = append(frames, pcmFrame(50)) // below threshold
	}
	for i := 0; i < 5; i++ {
		frames = append(frames, pcmFrame(5000)) // speech
	}

	event, err := p.Detect(context.Background(), feed(frames...))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if !event.Triggered {
		t.Fatal("expected activation on sustained speech")
	}
	if len(event.PreRoll) == 0 {
		t.Error("activation carries no pre-roll audio")
	}
}

func TestDetectIgnoresShortBursts(t *testing.T) {
	p := New(WithActivationMs(100))

	// Alternating single loud frames never sustain 100 ms of speech.
	var frames []types.AudioFrame
	for i := 0; i < 20; i++ {
		frames = append(frames, pcmFrame(5000), pcmFrame(10))
	}

	event, err := p.Detect(context.Background(), feed(frames...))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if event.Triggered {
		t.Error("short bursts must not trigger")
	}
}

func TestDetectStreamEndWithoutSpeech(t *testing.T) {
	p := New()

	event, err := p.Detect(context.Background(), feed(pcmFrame(10), pcmFrame(20)))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if event.Triggered {
		t.Error("silence triggered an activation")
	}
}

func TestDetectHonoursContextCancel(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan types.AudioFrame)
	_, err := p.Detect(ctx, ch)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestPreRollBounded(t *testing.T) {
	p := New(WithActivationMs(20), WithPreRollMs(100))

	var frames []types.AudioFrame
	for i := 0; i < 100; i++ {
		frames = append(frames, pcmFrame(10))
	}
	frames = append(frames, pcmFrame(5000))

	event, err := p.Detect(context.Background(), feed(frames...))
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if !event.Triggered {
		t.Fatal("expected activation")
	}

	var totalMs int
	for _, f := range event.PreRoll {
		totalMs += frameDurationMs(f)
	}
	// 100 ms budget plus at most one extra frame of slack.
	if totalMs > 120 {
		t.Errorf("pre-roll holds %d ms, want <= 120", totalMs)
	}
}
