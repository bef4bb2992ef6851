package audio

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/aria/pkg/types"
)

// Browsers and most WebRTC stacks deliver 48 kHz Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusDecoder decodes an Opus packet stream into PCM audio frames. Each input
// stream needs its own decoder to maintain codec state across consecutive
// packets; do not share one decoder between streams.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates an Opus decoder for a single incoming audio stream.
// channels must be 1 or 2.
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: opus decoder supports 1 or 2 channels, got %d", channels)
	}
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes one Opus packet into a PCM audio frame (little-endian int16,
// 48 kHz, the decoder's channel count).
func (d *OpusDecoder) Decode(packet []byte) (types.AudioFrame, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return types.AudioFrame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return types.AudioFrame{
		Data:       Int16sToBytes(pcm),
		SampleRate: opusSampleRate,
		Channels:   d.channels,
	}, nil
}

// DecodeStream decodes a channel of Opus packets into a channel of PCM frames.
// Undecodable packets are skipped. The returned channel is closed when in
// closes.
func (d *OpusDecoder) DecodeStream(in <-chan []byte) <-chan types.AudioFrame {
	out := make(chan types.AudioFrame, cap(in))
	go func() {
		defer close(out)
		for packet := range in {
			frame, err := d.Decode(packet)
			if err != nil {
				continue
			}
			out <- frame
		}
	}()
	return out
}

// Int16sToBytes converts int16 samples to little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16s converts little-endian bytes to int16 samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
