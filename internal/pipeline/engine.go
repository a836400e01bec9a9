package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// StageEncode names the final encoding step in errors and timings.
const StageEncode = "encode"

var (
	// ErrEncoderRequired indicates the engine was built without an encoder.
	ErrEncoderRequired = errors.New("encoder cannot be nil")
	// ErrLoggerRequired indicates the engine was built without a logger.
	ErrLoggerRequired = errors.New("logger cannot be nil")
)

// MixRequest owns the inputs of a single mix.
type MixRequest struct {
	Voice      *audio.Buffer
	Background *audio.Buffer
	Effects    audio.EffectConfig
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// MixResult is the mastered buffer plus its encoded form.
type MixResult struct {
	Buffer       *audio.Buffer
	Encoded      []byte
	Format       audio.Format
	LoudnessLUFS float64
	PeakDBFS     float64
	Timings      []StageTiming
}

// Observer receives stage timings as a mix progresses.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithStages replaces the default stage list.
func WithStages(stages ...Stage) Option {
	return func(e *Engine) {
		e.stages = stages
	}
}

// WithObserver registers an observer for stage timings.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// Engine runs the stage list over a MixRequest and encodes the master.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	stages   []Stage
	encoder  core.AudioEncoder
	observer Observer
	log      *logger.Logger
}

// NewEngine creates an engine with the default stage order.
func NewEngine(encoder core.AudioEncoder, log *logger.Logger, opts ...Option) (*Engine, error) {
	if encoder == nil {
		return nil, ErrEncoderRequired
	}

	if log == nil {
		return nil, ErrLoggerRequired
	}

	engine := &Engine{
		stages:   DefaultStages(),
		encoder:  encoder,
		observer: nil,
		log:      log,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine, nil
}

// Stages returns the names of the configured stages in order.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.stages))
	for _, stage := range e.stages {
		names = append(names, stage.Name())
	}

	return names
}

// Mix runs every enabled stage in order and encodes the result. Any failure aborts
// the remaining stages and is returned as a *core.StageError; no partial audio is
// returned.
func (e *Engine) Mix(ctx context.Context, req MixRequest) (*MixResult, error) {
	validateErr := validateRequest(req)
	if validateErr != nil {
		return nil, validateErr
	}

	tracks := Tracks{Voice: req.Voice, Background: req.Background, Master: nil}
	timings := make([]StageTiming, 0, len(e.stages)+1)

	for _, stage := range e.stages {
		if !stage.Enabled(req.Effects) {
			continue
		}

		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, fmt.Errorf("mix stopped before stage %s: %w", stage.Name(), ctxErr)
		}

		started := time.Now()

		next, err := stage.Process(tracks, req.Effects)
		if err != nil {
			stageErr := core.NewStageError(stage.Name(), err)
			e.log.Error("Mix failed: %v", stageErr)

			return nil, stageErr
		}

		tracks = next
		timings = e.record(timings, stage.Name(), started)
	}

	if tracks.Master == nil {
		return nil, core.NewStageError(StageMix, fmt.Errorf("%w: no stage produced a master", core.ErrPrecondition))
	}

	started := time.Now()

	encoded, encodeErr := e.encoder.Encode(ctx, tracks.Master, req.Effects.OutputFormat, req.Effects.BitrateKbps)
	if encodeErr != nil {
		stageErr := core.NewStageError(StageEncode, encodeErr)
		e.log.Error("Mix failed: %v", stageErr)

		return nil, stageErr
	}

	timings = e.record(timings, StageEncode, started)

	result := &MixResult{
		Buffer:       tracks.Master,
		Encoded:      encoded,
		Format:       req.Effects.OutputFormat,
		LoudnessLUFS: tracks.Master.IntegratedLUFS(),
		PeakDBFS:     tracks.Master.PeakDBFS(),
		Timings:      timings,
	}

	e.log.Info("Mixed %s master: %.2fs, %.1f LUFS, peak %.2f dBFS, %d bytes",
		result.Format, result.Buffer.Duration().Seconds(), result.LoudnessLUFS, result.PeakDBFS, len(encoded))

	return result, nil
}

func (e *Engine) record(timings []StageTiming, stage string, started time.Time) []StageTiming {
	elapsed := time.Since(started)
	if e.observer != nil {
		e.observer.ObserveStage(stage, elapsed)
	}

	return append(timings, StageTiming{Stage: stage, Elapsed: elapsed})
}

func validateRequest(req MixRequest) error {
	if req.Voice == nil || req.Background == nil {
		return fmt.Errorf("%w: voice and background buffers are required", core.ErrPrecondition)
	}

	if !req.Voice.SameLayout(req.Background) {
		return fmt.Errorf("%w: voice is %d Hz/%d ch, background is %d Hz/%d ch", core.ErrPrecondition,
			req.Voice.SampleRate, req.Voice.Channels, req.Background.SampleRate, req.Background.Channels)
	}

	effectsErr := req.Effects.Validate()
	if effectsErr != nil {
		return fmt.Errorf("failed to validate effects: %w", effectsErr)
	}

	return nil
}
