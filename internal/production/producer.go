// Package production turns uploaded voice and music files into a mastered track.
// It is the shared path behind the HTTP endpoint and the NATS worker.
package production

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/codec"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
)

// Track labels used in metrics and error messages.
const (
	TrackVoice      = "voice"
	TrackBackground = "background"
)

var (
	// ErrDecoderRequired indicates the producer was built without a decoder.
	ErrDecoderRequired = errors.New("decoder cannot be nil")
	// ErrMixerRequired indicates the producer was built without a mixer.
	ErrMixerRequired = errors.New("mixer cannot be nil")
	// ErrMetricsRequired indicates the producer was built without metrics.
	ErrMetricsRequired = errors.New("metrics cannot be nil")
	// ErrLoggerRequired indicates the producer was built without a logger.
	ErrLoggerRequired = errors.New("logger cannot be nil")
)

// Mixer runs the mastering pipeline.
type Mixer interface {
	Mix(ctx context.Context, req pipeline.MixRequest) (*pipeline.MixResult, error)
}

// Input is one production job in encoded form.
type Input struct {
	Voice              []byte
	VoiceFilename      string
	Background         []byte
	BackgroundFilename string
	Effects            audio.EffectConfig
}

// Summary describes a produced master. Loudness and peak are nil for a silent
// master, where both are -Inf and cannot be carried in JSON.
type Summary struct {
	Format          audio.Format
	DurationSeconds float64
	LoudnessLUFS    *float64
	PeakDBFS        *float64
}

// Producer decodes, conforms and mixes one job at a time. It is safe for concurrent use.
type Producer struct {
	decoder core.AudioDecoder
	mixer   Mixer
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewProducer creates a producer.
func NewProducer(
	decoder core.AudioDecoder,
	mixer Mixer,
	m *metrics.Metrics,
	log *logger.Logger,
) (*Producer, error) {
	switch {
	case decoder == nil:
		return nil, ErrDecoderRequired
	case mixer == nil:
		return nil, ErrMixerRequired
	case m == nil:
		return nil, ErrMetricsRequired
	case log == nil:
		return nil, ErrLoggerRequired
	}

	return &Producer{decoder: decoder, mixer: mixer, metrics: m, log: log}, nil
}

// Produce decodes both tracks, matches the background to the voice layout and runs the
// mix. Every failure is counted by error kind before it is returned.
func (p *Producer) Produce(ctx context.Context, in Input) (*pipeline.MixResult, error) {
	start := time.Now()

	result, err := p.produce(ctx, in)
	if err != nil {
		p.metrics.RecordMixFailure(core.KindOf(err), time.Since(start))

		return nil, err
	}

	p.metrics.RecordMixSuccess(
		time.Since(start),
		result.Buffer.Duration().Seconds(),
		len(result.Encoded),
		result.LoudnessLUFS,
	)

	return result, nil
}

func (p *Producer) produce(ctx context.Context, in Input) (*pipeline.MixResult, error) {
	voice, err := p.decode(in.Voice, in.VoiceFilename, TrackVoice)
	if err != nil {
		return nil, err
	}

	background, err := p.decode(in.Background, in.BackgroundFilename, TrackBackground)
	if err != nil {
		return nil, err
	}

	background, err = codec.Conform(voice, background)
	if err != nil {
		return nil, fmt.Errorf("failed to match background to voice layout: %w", err)
	}

	result, err := p.mixer.Mix(ctx, pipeline.MixRequest{
		Voice:      voice,
		Background: background,
		Effects:    in.Effects,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mix '%s' with '%s': %w", in.VoiceFilename, in.BackgroundFilename, err)
	}

	return result, nil
}

func (p *Producer) decode(data []byte, filename, track string) (*audio.Buffer, error) {
	buf, err := p.decoder.Decode(data, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s track '%s': %w", track, filename, err)
	}

	p.metrics.RecordInput(track, buf.Duration().Seconds())

	return buf, nil
}

// Summarize reports result in a form that survives JSON encoding.
func Summarize(result *pipeline.MixResult) Summary {
	return Summary{
		Format:          result.Format,
		DurationSeconds: result.Buffer.Duration().Seconds(),
		LoudnessLUFS:    finite(result.LoudnessLUFS),
		PeakDBFS:        finite(result.PeakDBFS),
	}
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}

	return &v
}
