package pipeline

import (
	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design/pass"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

const (
	bassCutoffHz   = 250.0
	trebleCutoffHz = 4000.0
	bandOrder      = 2
	// A band is skipped when its cutoff sits this close to Nyquist.
	maxCutoffRatio = 0.45
)

type bandDesign func(freq float64, order int, sampleRate float64) []biquad.Coefficients

// Equalize boosts the low band by bassDB and then the high band by trebleDB. Each
// band is filtered out of the signal, gained, and summed back over it. Non-positive
// values leave the band untouched.
func Equalize(buf *audio.Buffer, bassDB, trebleDB float64) *audio.Buffer {
	out := boostBand(buf, pass.ButterworthLP, bassCutoffHz, bassDB)

	return boostBand(out, pass.ButterworthHP, trebleCutoffHz, trebleDB)
}

func boostBand(buf *audio.Buffer, design bandDesign, cutoffHz, db float64) *audio.Buffer {
	sampleRate := float64(buf.SampleRate)
	if db <= 0 || cutoffHz >= maxCutoffRatio*sampleRate {
		return buf
	}

	coeffs := design(cutoffHz, bandOrder, sampleRate)
	boost := core.DBToLinear(db)
	out := buf.Clone()

	for ch := range buf.Channels {
		band := buf.Channel(ch)
		biquad.NewChain(coeffs).ProcessBlock(band)

		mixed := out.Channel(ch)
		for i := range mixed {
			mixed[i] += band[i] * boost
		}

		out.SetChannel(ch, mixed)
	}

	return out
}
