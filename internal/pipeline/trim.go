package pipeline

import (
	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// trimChunkMs is the detector resolution.
const trimChunkMs = 10

// TrimSilence removes leading and trailing runs of chunks whose RMS is below
// thresholdDBFS, keeping padMs around the detected content. A run shorter than
// minSilenceMs is not considered silence. A buffer with no content above the
// threshold is returned unchanged.
func TrimSilence(buf *audio.Buffer, thresholdDBFS float64, minSilenceMs, padMs int) *audio.Buffer {
	frames := buf.Frames()
	chunk := max(1, buf.FramesFor(trimChunkMs))

	loud := make([]bool, 0, frames/chunk+1)
	for offset := 0; offset < frames; offset += chunk {
		loud = append(loud, buf.Window(offset, chunk).RMSDBFS() >= thresholdDBFS)
	}

	first, last := -1, -1

	for i, isLoud := range loud {
		if isLoud {
			if first < 0 {
				first = i
			}

			last = i
		}
	}

	if first < 0 {
		return buf.Clone()
	}

	minSilence := buf.FramesFor(minSilenceMs)

	start := 0
	if leading := first * chunk; leading >= minSilence {
		start = leading
	}

	end := frames
	if trailing := frames - min(frames, (last+1)*chunk); trailing >= minSilence {
		end = frames - trailing
	}

	pad := buf.FramesFor(padMs)

	return buf.Slice(start-pad, end+pad)
}
