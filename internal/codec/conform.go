package codec

import (
	"fmt"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// Conform returns background converted to voice's channel layout. Mono is spread to
// every channel and multichannel audio is averaged down to mono. Sample rates must
// already match; no resampling is done.
func Conform(voice, background *audio.Buffer) (*audio.Buffer, error) {
	if voice.SampleRate != background.SampleRate {
		return nil, fmt.Errorf("%w: voice is %d Hz, background is %d Hz", core.ErrPrecondition,
			voice.SampleRate, background.SampleRate)
	}

	switch {
	case voice.Channels == background.Channels:
		return background, nil
	case background.Channels == 1:
		return upmix(background, voice.Channels), nil
	case voice.Channels == 1:
		return downmix(background), nil
	default:
		return nil, fmt.Errorf("%w: cannot map %d background channels onto %d voice channels",
			core.ErrPrecondition, background.Channels, voice.Channels)
	}
}

func upmix(mono *audio.Buffer, channels int) *audio.Buffer {
	out := audio.Silence(mono.Frames(), mono.SampleRate, channels)
	for f, s := range mono.Samples {
		for c := range channels {
			out.Samples[f*channels+c] = s
		}
	}

	return out
}

func downmix(buf *audio.Buffer) *audio.Buffer {
	out := audio.Silence(buf.Frames(), buf.SampleRate, 1)
	scale := 1 / float64(buf.Channels)

	for f := range out.Samples {
		sum := 0.0
		for c := range buf.Channels {
			sum += buf.Samples[f*buf.Channels+c]
		}

		out.Samples[f] = sum * scale
	}

	return out
}
