package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/measure/loudness"
)

// LoudnessWindow is a read-only view over a run of frames of a Buffer.
type LoudnessWindow struct {
	buf    *Buffer
	offset int
	length int
}

// Window returns the view over frames [offset, offset+length), clamped to the buffer.
func (b *Buffer) Window(offset, length int) LoudnessWindow {
	frames := b.Frames()
	offset = max(0, min(offset, frames))
	length = max(0, min(length, frames-offset))

	return LoudnessWindow{buf: b, offset: offset, length: length}
}

// WindowMs returns the view starting at offsetMs spanning lengthMs.
func (b *Buffer) WindowMs(offsetMs, lengthMs int) LoudnessWindow {
	return b.Window(b.FramesFor(offsetMs), b.FramesFor(lengthMs))
}

// Offset returns the first frame index of the window.
func (w LoudnessWindow) Offset() int { return w.offset }

// Len returns the number of frames in the window.
func (w LoudnessWindow) Len() int { return w.length }

func (w LoudnessWindow) samples() []float64 {
	ch := w.buf.Channels

	return w.buf.Samples[w.offset*ch : (w.offset+w.length)*ch]
}

// PeakDBFS returns the window's peak in dBFS; an empty or silent window is -Inf.
func (w LoudnessWindow) PeakDBFS() float64 {
	return core.LinearToDB(peakOf(w.samples()))
}

// RMSDBFS returns the window's RMS level in dBFS; an empty or silent window is -Inf.
func (w LoudnessWindow) RMSDBFS() float64 {
	samples := w.samples()
	if len(samples) == 0 {
		return math.Inf(-1)
	}

	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}

	return core.LinearToDB(math.Sqrt(sum / float64(len(samples))))
}

// IntegratedLUFS measures the gated integrated loudness of the whole buffer per
// ITU-R BS.1770. Buffers too short or too quiet to pass the gates return -Inf.
func (b *Buffer) IntegratedLUFS() float64 {
	meter := loudness.NewMeter(
		loudness.WithSampleRate(float64(b.SampleRate)),
		loudness.WithChannels(b.Channels),
	)
	meter.StartIntegration()

	for offset := 0; offset < len(b.Samples); offset += b.Channels {
		meter.ProcessSample(b.Samples[offset : offset+b.Channels])
	}

	return meter.Integrated()
}
