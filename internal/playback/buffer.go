package playback

import (
	"encoding/binary"
	"time"
)

// PCM format shared by decoder, graph and encoder.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // interleaved samples per frame
)

// Buffer is a decoded, read-only stem. Samples are interleaved stereo s16.
// Paths share a Buffer without copying it.
type Buffer struct {
	Samples []int16
}

func NewBuffer(samples []int16) *Buffer {
	return &Buffer{Samples: samples}
}

// Frames returns the number of sample frames (one sample per channel).
func (b *Buffer) Frames() int {
	if b == nil {
		return 0
	}
	return len(b.Samples) / Channels
}

func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Frames()) * time.Second / SampleRate
}

// sampleIndex converts a playback offset to an interleaved sample index.
func sampleIndex(offset time.Duration) int {
	if offset <= 0 {
		return 0
	}
	frames := int64(offset) * SampleRate / int64(time.Second)
	return int(frames) * Channels
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes little-endian s16 PCM. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}
