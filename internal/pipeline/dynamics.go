package pipeline

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// limiterToleranceDB keeps a second limiter pass from reacting to rounding error.
const limiterToleranceDB = 1e-9

// Fade applies a linear fade-in of inMs and fade-out of outMs. When the two together
// exceed the buffer, both are shortened in proportion.
func Fade(buf *audio.Buffer, inMs, outMs int) *audio.Buffer {
	out := buf.Clone()
	frames := out.Frames()
	fadeIn, fadeOut := buf.FramesFor(inMs), buf.FramesFor(outMs)

	if total := fadeIn + fadeOut; total > frames {
		fadeIn = fadeIn * frames / total
		fadeOut = fadeOut * frames / total
	}

	ch := out.Channels

	for f := range fadeIn {
		gain := float64(f) / float64(fadeIn)
		for c := range ch {
			out.Samples[f*ch+c] *= gain
		}
	}

	start := frames - fadeOut
	for f := range fadeOut {
		gain := float64(fadeOut-1-f) / float64(fadeOut)
		for c := range ch {
			out.Samples[(start+f)*ch+c] *= gain
		}
	}

	return out
}

// Compress runs a hard-knee feed-forward compressor over each channel, then applies
// the configured makeup gain when it is positive.
func Compress(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
	out := buf.Clone()

	for ch := range out.Channels {
		comp, err := newCompressor(float64(buf.SampleRate), cfg)
		if err != nil {
			return nil, err
		}

		data := out.Channel(ch)
		comp.ProcessInPlace(data)
		out.SetChannel(ch, data)
	}

	if cfg.CompMakeupDB > 0 {
		return out.WithGain(cfg.CompMakeupDB), nil
	}

	return out, nil
}

func newCompressor(sampleRate float64, cfg audio.EffectConfig) (*dynamics.Compressor, error) {
	comp, err := dynamics.NewCompressor(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	setters := []func() error{
		func() error { return comp.SetThreshold(cfg.CompThresholdDBFS) },
		func() error { return comp.SetRatio(cfg.CompRatio) },
		func() error { return comp.SetKnee(0) },
		func() error { return comp.SetAttack(cfg.CompAttackMs) },
		func() error { return comp.SetRelease(cfg.CompReleaseMs) },
		func() error { return comp.SetMakeupGain(0) },
	}

	for _, set := range setters {
		setErr := set()
		if setErr != nil {
			return nil, fmt.Errorf("failed to configure compressor: %w", setErr)
		}
	}

	return comp, nil
}

// Normalize scales buf so its peak sits headroomDB below full scale. Silence is
// returned unchanged.
func Normalize(buf *audio.Buffer, headroomDB float64) *audio.Buffer {
	peak := buf.PeakDBFS()
	if math.IsInf(peak, -1) {
		return buf.Clone()
	}

	return buf.WithGain(-headroomDB - peak)
}

// Limit pulls the whole buffer down by one flat gain so its peak equals ceilingDBFS.
// Buffers already at or below the ceiling, and silence, are returned unchanged.
func Limit(buf *audio.Buffer, ceilingDBFS float64) *audio.Buffer {
	peak := buf.PeakDBFS()
	if math.IsInf(peak, -1) || peak <= ceilingDBFS+limiterToleranceDB {
		return buf.Clone()
	}

	return buf.WithGain(ceilingDBFS - peak)
}
