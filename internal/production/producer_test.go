package production_test

import (
	"context"
	"math"
	"testing"

	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/codec"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
	"github.com/book-expert/audio-mixer-service/internal/production"
)

const testRate = 8000

type fixture struct {
	producer *production.Producer
	encoder  *codec.Encoder
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "production-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	m := metrics.New()
	encoder := codec.NewEncoder("", log)

	engine, err := pipeline.NewEngine(encoder, log, pipeline.WithObserver(m))
	require.NoError(t, err)

	producer, err := production.NewProducer(codec.NewRegistry(), engine, m, log)
	require.NoError(t, err)

	return fixture{producer: producer, encoder: encoder, metrics: m}
}

func (f fixture) wav(t *testing.T, frames, channels int, amplitude float64) []byte {
	t.Helper()

	buf := audio.Silence(frames, testRate, channels)
	for i := range buf.Samples {
		buf.Samples[i] = amplitude * math.Sin(2*math.Pi*220*float64(i/channels)/testRate)
	}

	data, err := f.encoder.Encode(context.Background(), buf, audio.FormatWAV, 0)
	require.NoError(t, err)

	return data
}

func wavEffects() audio.EffectConfig {
	effects := audio.DefaultEffectConfig()
	effects.OutputFormat = audio.FormatWAV

	return effects
}

func TestNewProducer_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	log, err := logger.New(t.TempDir(), "required.log")
	require.NoError(t, err)

	defer func() {
		_ = log.Close()
	}()

	engine, err := pipeline.NewEngine(f.encoder, log)
	require.NoError(t, err)

	_, err = production.NewProducer(nil, engine, f.metrics, log)
	require.ErrorIs(t, err, production.ErrDecoderRequired)

	_, err = production.NewProducer(codec.NewRegistry(), nil, f.metrics, log)
	require.ErrorIs(t, err, production.ErrMixerRequired)

	_, err = production.NewProducer(codec.NewRegistry(), engine, nil, log)
	require.ErrorIs(t, err, production.ErrMetricsRequired)

	_, err = production.NewProducer(codec.NewRegistry(), engine, f.metrics, nil)
	require.ErrorIs(t, err, production.ErrLoggerRequired)
}

func TestProduce_MonoVoiceWithStereoMusic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.producer.Produce(context.Background(), production.Input{
		Voice:              f.wav(t, testRate, 1, 0.5),
		VoiceFilename:      "voice.wav",
		Background:         f.wav(t, testRate/4, 2, 0.5),
		BackgroundFilename: "music.wav",
		Effects:            wavEffects(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Buffer.Channels)
	assert.Equal(t, audio.FormatWAV, result.Format)
	assert.Equal(t, "RIFF", string(result.Encoded[:4]))

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Mixes.WithLabelValues(metrics.OutcomeSuccess, "")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(f.metrics.InputDuration))
	assert.Positive(t, testutil.CollectAndCount(f.metrics.StageDuration))
}

func TestProduce_UndecodableVoiceIsCounted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.producer.Produce(context.Background(), production.Input{
		Voice:              []byte("not audio"),
		VoiceFilename:      "voice.wav",
		Background:         f.wav(t, 100, 1, 0.5),
		BackgroundFilename: "music.wav",
		Effects:            wavEffects(),
	})
	require.ErrorIs(t, err, core.ErrDecode)
	assert.Contains(t, err.Error(), "voice track 'voice.wav'")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Mixes.WithLabelValues(metrics.OutcomeFailure, core.KindDecode)), 0)
}

func TestProduce_SampleRateMismatchIsPrecondition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	other, err := f.encoder.Encode(context.Background(), audio.Silence(100, 16000, 1), audio.FormatWAV, 0)
	require.NoError(t, err)

	_, err = f.producer.Produce(context.Background(), production.Input{
		Voice:              f.wav(t, 100, 1, 0.5),
		VoiceFilename:      "voice.wav",
		Background:         other,
		BackgroundFilename: "music.wav",
		Effects:            wavEffects(),
	})
	require.ErrorIs(t, err, core.ErrPrecondition)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Mixes.WithLabelValues(metrics.OutcomeFailure, core.KindPrecondition)), 0)
}

func TestProduce_InvalidEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	effects := wavEffects()
	effects.FadeInMs = -5

	_, err := f.producer.Produce(context.Background(), production.Input{
		Voice:              f.wav(t, 100, 1, 0.5),
		VoiceFilename:      "voice.wav",
		Background:         f.wav(t, 100, 1, 0.5),
		BackgroundFilename: "music.wav",
		Effects:            effects,
	})
	require.ErrorIs(t, err, audio.ErrInvalidEffects)
	assert.Equal(t, core.KindInvalidEffects, core.KindOf(err))
}

func TestSummarize_DropsInfiniteLevels(t *testing.T) {
	t.Parallel()

	summary := production.Summarize(&pipeline.MixResult{
		Buffer:       audio.Silence(testRate*2, testRate, 1),
		Format:       audio.FormatMP3,
		LoudnessLUFS: math.Inf(-1),
		PeakDBFS:     math.Inf(-1),
	})

	assert.Equal(t, audio.FormatMP3, summary.Format)
	assert.InDelta(t, 2.0, summary.DurationSeconds, 1e-9)
	assert.Nil(t, summary.LoudnessLUFS)
	assert.Nil(t, summary.PeakDBFS)

	summary = production.Summarize(&pipeline.MixResult{
		Buffer:       audio.Silence(testRate, testRate, 1),
		LoudnessLUFS: -16,
		PeakDBFS:     -1,
	})
	require.NotNil(t, summary.LoudnessLUFS)
	assert.InDelta(t, -16.0, *summary.LoudnessLUFS, 0)
	require.NotNil(t, summary.PeakDBFS)
	assert.InDelta(t, -1.0, *summary.PeakDBFS, 0)
}
