// Package audio provides the PCM buffer, loudness measurement, and effect settings used
// by the mixing pipeline.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Common errors for the audio package.
var (
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrInvalidChannels   = errors.New("channel count must be positive")
	ErrSampleAlignment   = errors.New("sample count must be a multiple of the channel count")
)

// Buffer holds interleaved PCM samples with nominal full scale at 1.0.
// Stages never mutate a Buffer they receive; they return a new one.
type Buffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// NewBuffer validates the layout and wraps samples without copying.
func NewBuffer(samples []float64, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	if channels <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChannels, channels)
	}

	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrSampleAlignment, len(samples), channels)
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Silence returns a zeroed buffer of the given number of frames.
func Silence(frames, sampleRate, channels int) *Buffer {
	if frames < 0 {
		frames = 0
	}

	return &Buffer{
		Samples:    make([]float64, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Frames returns the number of sample frames (one sample per channel).
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}

	return len(b.Samples) / b.Channels
}

// Duration returns frames / sample rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}

	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// FramesFor converts milliseconds to a frame count at the buffer's sample rate.
func (b *Buffer) FramesFor(ms int) int {
	return FramesFor(ms, b.SampleRate)
}

// FramesFor converts milliseconds to a frame count at sampleRate, rounding to nearest.
func FramesFor(ms, sampleRate int) int {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}

	return int(math.Round(float64(ms) * float64(sampleRate) / 1000))
}

// SameLayout reports whether other shares sample rate and channel count.
func (b *Buffer) SameLayout(other *Buffer) bool {
	return b.SampleRate == other.SampleRate && b.Channels == other.Channels
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)

	return &Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Slice copies frames [start, end) into a new buffer. Bounds are clamped.
func (b *Buffer) Slice(start, end int) *Buffer {
	frames := b.Frames()
	start = max(0, min(start, frames))
	end = max(start, min(end, frames))

	samples := make([]float64, (end-start)*b.Channels)
	copy(samples, b.Samples[start*b.Channels:end*b.Channels])

	return &Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Append returns a new buffer with other's frames after b's.
func (b *Buffer) Append(other *Buffer) *Buffer {
	samples := make([]float64, 0, len(b.Samples)+len(other.Samples))
	samples = append(samples, b.Samples...)
	samples = append(samples, other.Samples...)

	return &Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// WithGain returns a copy scaled by db decibels.
func (b *Buffer) WithGain(db float64) *Buffer {
	out := b.Clone()
	if db == 0 {
		return out
	}

	scale := core.DBToLinear(db)
	for i := range out.Samples {
		out.Samples[i] *= scale
	}

	return out
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	return peakOf(b.Samples)
}

// PeakDBFS returns the peak level in dBFS; silence is -Inf.
func (b *Buffer) PeakDBFS() float64 {
	return core.LinearToDB(b.Peak())
}

// Channel extracts one channel as a contiguous slice.
func (b *Buffer) Channel(ch int) []float64 {
	out := make([]float64, b.Frames())
	for i := range out {
		out[i] = b.Samples[i*b.Channels+ch]
	}

	return out
}

// SetChannel writes data back into one channel of b in place. Only used on
// buffers a stage has already copied.
func (b *Buffer) SetChannel(ch int, data []float64) {
	for i := range min(len(data), b.Frames()) {
		b.Samples[i*b.Channels+ch] = data[i]
	}
}

func peakOf(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		peak = max(peak, math.Abs(s))
	}

	return peak
}
