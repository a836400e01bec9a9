package pipeline_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

const testRate = 8000

func tone(t *testing.T, sampleRate, ms int, freq, amplitude float64) *audio.Buffer {
	t.Helper()

	samples, err := signal.NewGenerator(core.WithSampleRate(float64(sampleRate))).
		Sine(freq, amplitude, audio.FramesFor(ms, sampleRate))
	require.NoError(t, err)

	buf, err := audio.NewBuffer(samples, sampleRate, 1)
	require.NoError(t, err)

	return buf
}

func silence(ms int) *audio.Buffer {
	return audio.Silence(audio.FramesFor(ms, testRate), testRate, 1)
}

func level(ms int, value float64) *audio.Buffer {
	buf := silence(ms)
	for i := range buf.Samples {
		buf.Samples[i] = value
	}

	return buf
}

func concat(parts ...*audio.Buffer) *audio.Buffer {
	out := parts[0]
	for _, part := range parts[1:] {
		out = out.Append(part)
	}

	return out
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

// stubEncoder records what it was asked to encode.
type stubEncoder struct {
	err     error
	format  audio.Format
	bitrate int
	frames  int
}

func (s *stubEncoder) Encode(_ context.Context, buf *audio.Buffer, format audio.Format, bitrateKbps int) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	s.format = format
	s.bitrate = bitrateKbps
	s.frames = buf.Frames()

	return []byte("encoded"), nil
}
