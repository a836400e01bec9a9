package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	mixcore "github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
)

var errBoom = errors.New("boom")

type recordingObserver struct {
	stages []string
}

func (r *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	r.stages = append(r.stages, stage)
}

// failingStage always fails with err.
type failingStage struct {
	err error
}

func (failingStage) Name() string { return "failing" }

func (failingStage) Enabled(_ audio.EffectConfig) bool { return true }

func (f failingStage) Process(tracks pipeline.Tracks, _ audio.EffectConfig) (pipeline.Tracks, error) {
	return tracks, f.err
}

func narration(t *testing.T) *audio.Buffer {
	t.Helper()

	return concat(silence(500), tone(t, testRate, 2000, 440, 0.5), silence(500))
}

func newEngine(t *testing.T, encoder *stubEncoder, opts ...pipeline.Option) *pipeline.Engine {
	t.Helper()

	engine, err := pipeline.NewEngine(encoder, newTestLogger(t), opts...)
	require.NoError(t, err)

	return engine
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := pipeline.NewEngine(nil, newTestLogger(t))
	require.ErrorIs(t, err, pipeline.ErrEncoderRequired)

	_, err = pipeline.NewEngine(&stubEncoder{}, nil)
	require.ErrorIs(t, err, pipeline.ErrLoggerRequired)
}

func TestEngine_DefaultStageOrder(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubEncoder{})

	assert.Equal(t, []string{
		pipeline.StageTrim, pipeline.StageEqualizer, pipeline.StageGain, pipeline.StageTail,
		pipeline.StageLoop, pipeline.StageDucking, pipeline.StageMix, pipeline.StageFade,
		pipeline.StageCompressor, pipeline.StageNormalize, pipeline.StageLimiter,
	}, engine.Stages())
}

func TestEngine_MixWithDefaults(t *testing.T) {
	t.Parallel()

	encoder := &stubEncoder{}
	observer := &recordingObserver{}
	engine := newEngine(t, encoder, pipeline.WithObserver(observer))

	result, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      narration(t),
		Background: tone(t, testRate, 1000, 220, 0.3),
		Effects:    audio.DefaultEffectConfig(),
	})
	require.NoError(t, err)

	expectedFrames := audio.FramesFor(2160+2500, testRate)
	assert.Equal(t, expectedFrames, result.Buffer.Frames())
	assert.Equal(t, expectedFrames, encoder.frames)
	assert.Equal(t, audio.FormatMP3, encoder.format)
	assert.Equal(t, 192, encoder.bitrate)
	assert.Equal(t, []byte("encoded"), result.Encoded)
	assert.Equal(t, audio.FormatMP3, result.Format)
	assert.InDelta(t, -1, result.PeakDBFS, 1e-6)
	assert.False(t, math.IsNaN(result.LoudnessLUFS))

	// Equalizer is disabled by default.
	assert.Equal(t, []string{
		pipeline.StageTrim, pipeline.StageGain, pipeline.StageTail, pipeline.StageLoop,
		pipeline.StageDucking, pipeline.StageMix, pipeline.StageFade, pipeline.StageCompressor,
		pipeline.StageNormalize, pipeline.StageLimiter, pipeline.StageEncode,
	}, observer.stages)
	assert.Len(t, result.Timings, len(observer.stages))
}

func TestEngine_MixWithoutOptionalStages(t *testing.T) {
	t.Parallel()

	cfg := audio.DefaultEffectConfig()
	cfg.TrimSilence = false
	cfg.Ducking = false
	cfg.FadeInMs = 0
	cfg.FadeOutMs = 0
	cfg.Compressor = false
	cfg.Normalize = false
	cfg.Limiter = false
	cfg.BackgroundGainDB = 0

	voice := level(1000, 0.25)
	engine := newEngine(t, &stubEncoder{})

	result, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      voice,
		Background: level(400, 0.5),
		Effects:    cfg,
	})
	require.NoError(t, err)

	assert.Equal(t, audio.FramesFor(1000+1500, testRate), result.Buffer.Frames())
	assert.InDelta(t, 0.75, result.Buffer.Samples[0], 1e-12)
	assert.InDelta(t, 0.5, result.Buffer.Samples[len(result.Buffer.Samples)-1], 1e-12)
}

func TestEngine_EmptyBackgroundIsPrecondition(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubEncoder{})

	result, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      narration(t),
		Background: silence(0),
		Effects:    audio.DefaultEffectConfig(),
	})
	require.ErrorIs(t, err, mixcore.ErrPrecondition)
	assert.Nil(t, result)

	var stageErr *mixcore.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageLoop, stageErr.Stage)
}

func TestEngine_LayoutMismatchIsPrecondition(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubEncoder{})

	_, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      narration(t),
		Background: audio.Silence(100, 44100, 2),
		Effects:    audio.DefaultEffectConfig(),
	})
	require.ErrorIs(t, err, mixcore.ErrPrecondition)
}

func TestEngine_InvalidEffectsAreRejected(t *testing.T) {
	t.Parallel()

	cfg := audio.DefaultEffectConfig()
	cfg.DuckWindowMs = -1

	engine := newEngine(t, &stubEncoder{})

	_, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      narration(t),
		Background: level(500, 0.1),
		Effects:    cfg,
	})
	require.ErrorIs(t, err, audio.ErrInvalidEffects)
}

func TestEngine_StageFailureIsTagged(t *testing.T) {
	t.Parallel()

	encoder := &stubEncoder{}
	engine := newEngine(t, encoder, pipeline.WithStages(failingStage{err: errBoom}))

	_, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      level(100, 0.1),
		Background: level(100, 0.1),
		Effects:    audio.DefaultEffectConfig(),
	})

	var stageErr *mixcore.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "failing", stageErr.Stage)
	require.ErrorIs(t, err, mixcore.ErrMixFailure)
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, encoder.frames, "encoder must not run after a failed stage")
}

func TestEngine_EncoderDependencyUnavailable(t *testing.T) {
	t.Parallel()

	encoder := &stubEncoder{err: fmt.Errorf("%w: ffmpeg not found", mixcore.ErrDependencyUnavailable)}
	engine := newEngine(t, encoder)

	_, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      narration(t),
		Background: level(500, 0.1),
		Effects:    audio.DefaultEffectConfig(),
	})
	require.ErrorIs(t, err, mixcore.ErrDependencyUnavailable)
	assert.NotErrorIs(t, err, mixcore.ErrMixFailure)

	var stageErr *mixcore.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageEncode, stageErr.Stage)
}

func TestEngine_CancelledContextStopsMix(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newEngine(t, &stubEncoder{})

	_, err := engine.Mix(ctx, pipeline.MixRequest{
		Voice:      narration(t),
		Background: level(500, 0.1),
		Effects:    audio.DefaultEffectConfig(),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	voice := narration(t)
	background := tone(t, testRate, 1000, 220, 0.3)
	voiceCopy, backgroundCopy := voice.Clone(), background.Clone()

	engine := newEngine(t, &stubEncoder{})

	_, err := engine.Mix(context.Background(), pipeline.MixRequest{
		Voice:      voice,
		Background: background,
		Effects:    audio.DefaultEffectConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, voiceCopy.Samples, voice.Samples)
	assert.Equal(t, backgroundCopy.Samples, background.Samples)
}

func TestStageError_Message(t *testing.T) {
	t.Parallel()

	wrapped := mixcore.NewStageError("loop_align", fmt.Errorf("%w: empty", mixcore.ErrPrecondition))
	assert.Equal(t, "stage loop_align: precondition violation: empty", wrapped.Error())

	unknown := mixcore.NewStageError("fade", errBoom)
	assert.Equal(t, "stage fade: mix failure: boom", unknown.Error())
}
