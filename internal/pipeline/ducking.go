package pipeline

import (
	"fmt"
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// Duck attenuates background by amountDB in every windowMs window where the voice
// peak is above thresholdDBFS. Windows do not overlap and the last one may be short.
// Transitions between windows are not smoothed.
func Duck(voice, background *audio.Buffer, windowMs int, thresholdDBFS, amountDB float64) (*audio.Buffer, error) {
	err := requireAligned(voice, background)
	if err != nil {
		return nil, err
	}

	window := max(1, voice.FramesFor(windowMs))
	scale := dspcore.DBToLinear(amountDB)
	out := background.Clone()
	ch := out.Channels

	for offset := 0; offset < voice.Frames(); offset += window {
		view := voice.Window(offset, window)

		peak := view.PeakDBFS()
		if math.IsInf(peak, -1) || peak <= thresholdDBFS {
			continue
		}

		segment := out.Samples[view.Offset()*ch : (view.Offset()+view.Len())*ch]
		for i := range segment {
			segment[i] *= scale
		}
	}

	return out, nil
}

// Overlay sums background onto voice sample by sample.
func Overlay(voice, background *audio.Buffer) (*audio.Buffer, error) {
	err := requireAligned(voice, background)
	if err != nil {
		return nil, err
	}

	out := voice.Clone()
	for i, s := range background.Samples {
		out.Samples[i] += s
	}

	return out, nil
}

func requireAligned(voice, background *audio.Buffer) error {
	if !voice.SameLayout(background) {
		return fmt.Errorf("%w: voice is %d Hz/%d ch, background is %d Hz/%d ch", core.ErrPrecondition,
			voice.SampleRate, voice.Channels, background.SampleRate, background.Channels)
	}

	if voice.Frames() != background.Frames() {
		return fmt.Errorf("%w: voice has %d frames, background has %d", core.ErrPrecondition,
			voice.Frames(), background.Frames())
	}

	return nil
}
