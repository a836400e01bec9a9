package pipeline

import (
	"fmt"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// Gain returns buf scaled by db decibels. No clipping guard is applied.
func Gain(buf *audio.Buffer, db float64) *audio.Buffer {
	return buf.WithGain(db)
}

// PadTail appends ms of silence to buf.
func PadTail(buf *audio.Buffer, ms int) *audio.Buffer {
	return buf.Append(audio.Silence(buf.FramesFor(ms), buf.SampleRate, buf.Channels))
}

// Loop tiles background end to end and truncates it to exactly frames frames.
func Loop(background *audio.Buffer, frames int) (*audio.Buffer, error) {
	if background.Frames() == 0 {
		return nil, fmt.Errorf("%w: background track is empty", core.ErrPrecondition)
	}

	samples := make([]float64, max(0, frames)*background.Channels)
	for filled := 0; filled < len(samples); {
		filled += copy(samples[filled:], background.Samples)
	}

	return &audio.Buffer{
		Samples:    samples,
		SampleRate: background.SampleRate,
		Channels:   background.Channels,
	}, nil
}
