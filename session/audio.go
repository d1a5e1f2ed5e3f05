package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// ringBufferCapacity is ~167ms at 48kHz stereo 16-bit.
const ringBufferCapacity = 32768

// AudioPlayer plays core audio via oto. Samples land in an
// AudioRingBuffer which oto's player drains in a pull model; the drain
// rate doubles as the session's frame pacing clock.
type AudioPlayer struct {
	player     *oto.Player
	ringBuffer *AudioRingBuffer
	audioBytes []byte // scratch for int16-to-byte conversion
}

// oto allows one context per process.
var (
	otoCtx      *oto.Context
	otoInitOnce sync.Once
	otoInitErr  error
	otoRate     int
)

func ensureOtoContext(sampleRate int) (*oto.Context, error) {
	otoInitOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		}
		var readyChan chan struct{}
		otoCtx, readyChan, otoInitErr = oto.NewContext(op)
		if otoInitErr != nil {
			return
		}
		otoRate = sampleRate
		<-readyChan
	})
	if otoInitErr == nil && otoRate != sampleRate {
		return nil, fmt.Errorf("audio context already opened at %d Hz, core wants %d Hz", otoRate, sampleRate)
	}
	return otoCtx, otoInitErr
}

// NewAudioPlayer opens playback at the core's sample rate. Volume is set
// before Play to avoid a pop when starting muted.
func NewAudioPlayer(sampleRate int, volume float64) (*AudioPlayer, error) {
	ctx, err := ensureOtoContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio not available: %w", err)
	}

	rb := NewAudioRingBuffer(ringBufferCapacity)
	player := ctx.NewPlayer(rb)
	// Shrink the player's internal buffer from oto's half-second default
	// to ~50ms so the ring buffer level tracks real playback position.
	player.SetBufferSize(sampleRate / 5)
	player.SetVolume(volume)
	player.Play()

	return &AudioPlayer{
		player:     player,
		ringBuffer: rb,
		audioBytes: make([]byte, 0, 4096),
	}, nil
}

// QueueSamples converts interleaved stereo int16 samples to bytes and
// feeds the ring buffer. Returns the number of sample frames accepted.
func (a *AudioPlayer) QueueSamples(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}

	needed := len(samples) * 2
	if cap(a.audioBytes) < needed {
		a.audioBytes = make([]byte, 0, needed)
	}
	a.audioBytes = a.audioBytes[:0]
	for _, sample := range samples {
		a.audioBytes = append(a.audioBytes, byte(sample), byte(sample>>8))
	}

	n := a.ringBuffer.Write(a.audioBytes)
	return n / 4
}

// BufferLevel returns total buffered audio bytes (ring plus the player's
// internal buffer). Drives frame pacing.
func (a *AudioPlayer) BufferLevel() int {
	return a.ringBuffer.Buffered() + a.player.BufferedSize()
}

// ClearQueue flushes buffered audio, for state restores and resets.
func (a *AudioPlayer) ClearQueue() {
	a.ringBuffer.Clear()
}

// SetVolume clamps and applies playback volume. 0 keeps the player
// draining for pacing without audible output.
func (a *AudioPlayer) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	} else if vol > 2.0 {
		vol = 2.0
	}
	a.player.SetVolume(vol)
}

// Close releases playback resources.
func (a *AudioPlayer) Close() {
	if a.ringBuffer != nil {
		a.ringBuffer.Close()
	}
	if a.player != nil {
		a.player.Close()
	}
}
