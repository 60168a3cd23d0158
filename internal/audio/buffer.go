package audio

import "time"

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1
)

// Buffer holds interleaved float samples at a fixed rate and channel count.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func NewBuffer(pcm []byte, sampleRate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	samples := DecodePCM16(pcm)
	samples = samples[:len(samples)-len(samples)%channels]
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Seconds is the playback length of the buffer.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// PCM16 re-encodes the buffer as little-endian 16-bit PCM.
func (b *Buffer) PCM16() []byte {
	if b == nil {
		return nil
	}
	return EncodePCM16(b.Samples)
}
