// Package pipeline implements the ordered chain of buffer transforms that turns a narration
// track and a background track into a mastered mix.
package pipeline

import (
	"fmt"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// Stage names, used in errors, logs and metrics.
const (
	StageTrim       = "silence_trim"
	StageEqualizer  = "band_eq"
	StageGain       = "gain"
	StageTail       = "tail_pad"
	StageLoop       = "loop_align"
	StageDucking    = "ducking"
	StageMix        = "mix"
	StageFade       = "fade"
	StageCompressor = "compressor"
	StageNormalize  = "normalize"
	StageLimiter    = "limiter"
)

// Tracks is the state threaded from stage to stage. Voice and Background are populated
// until the mix stage, after which only Master is.
type Tracks struct {
	Voice      *audio.Buffer
	Background *audio.Buffer
	Master     *audio.Buffer
}

// Stage is one step of the pipeline. Process must not mutate the buffers it receives.
type Stage interface {
	Name() string
	Enabled(cfg audio.EffectConfig) bool
	Process(tracks Tracks, cfg audio.EffectConfig) (Tracks, error)
}

type track int

const (
	voiceTrack track = iota
	masterTrack
)

func (t track) String() string {
	if t == voiceTrack {
		return "voice"
	}

	return "master"
}

// bufferFunc is a single-buffer transform.
type bufferFunc func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error)

// trackStage adapts a single-buffer transform to the Stage interface.
type trackStage struct {
	name    string
	target  track
	enabled func(cfg audio.EffectConfig) bool
	apply   bufferFunc
}

func (s trackStage) Name() string { return s.name }

func (s trackStage) Enabled(cfg audio.EffectConfig) bool {
	if s.enabled == nil {
		return true
	}

	return s.enabled(cfg)
}

func (s trackStage) Process(tracks Tracks, cfg audio.EffectConfig) (Tracks, error) {
	in := tracks.Voice
	if s.target == masterTrack {
		in = tracks.Master
	}

	if in == nil {
		return tracks, fmt.Errorf("%w: %s track is not available", core.ErrPrecondition, s.target)
	}

	out, err := s.apply(in, cfg)
	if err != nil {
		return tracks, err
	}

	if s.target == masterTrack {
		tracks.Master = out
	} else {
		tracks.Voice = out
	}

	return tracks, nil
}

// pairStage adapts a transform over voice and background to the Stage interface.
type pairStage struct {
	name    string
	enabled func(cfg audio.EffectConfig) bool
	apply   func(tracks Tracks, cfg audio.EffectConfig) (Tracks, error)
}

func (s pairStage) Name() string { return s.name }

func (s pairStage) Enabled(cfg audio.EffectConfig) bool {
	if s.enabled == nil {
		return true
	}

	return s.enabled(cfg)
}

func (s pairStage) Process(tracks Tracks, cfg audio.EffectConfig) (Tracks, error) {
	if tracks.Voice == nil || tracks.Background == nil {
		return tracks, fmt.Errorf("%w: voice and background tracks are required", core.ErrPrecondition)
	}

	return s.apply(tracks, cfg)
}

// DefaultStages returns the production stage order.
func DefaultStages() []Stage {
	return []Stage{
		trackStage{
			name:    StageTrim,
			target:  voiceTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.TrimSilence },
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return TrimSilence(buf, cfg.TrimThresholdDBFS, cfg.TrimMinSilenceMs, cfg.TrimPadMs), nil
			},
		},
		trackStage{
			name:    StageEqualizer,
			target:  voiceTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.EQBassDB > 0 || cfg.EQTrebleDB > 0 },
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return Equalize(buf, cfg.EQBassDB, cfg.EQTrebleDB), nil
			},
		},
		pairStage{name: StageGain, apply: applyGain},
		trackStage{
			name:   StageTail,
			target: voiceTrack,
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return PadTail(buf, cfg.TailMs()), nil
			},
		},
		pairStage{name: StageLoop, apply: applyLoop},
		pairStage{
			name:    StageDucking,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.Ducking },
			apply:   applyDucking,
		},
		pairStage{name: StageMix, apply: applyMix},
		trackStage{
			name:    StageFade,
			target:  masterTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.FadeInMs > 0 || cfg.FadeOutMs > 0 },
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return Fade(buf, cfg.FadeInMs, cfg.FadeOutMs), nil
			},
		},
		trackStage{
			name:    StageCompressor,
			target:  masterTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.Compressor },
			apply:   Compress,
		},
		trackStage{
			name:    StageNormalize,
			target:  masterTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.Normalize },
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return Normalize(buf, cfg.NormalizeHeadroomDB), nil
			},
		},
		trackStage{
			name:    StageLimiter,
			target:  masterTrack,
			enabled: func(cfg audio.EffectConfig) bool { return cfg.Limiter },
			apply: func(buf *audio.Buffer, cfg audio.EffectConfig) (*audio.Buffer, error) {
				return Limit(buf, cfg.LimiterCeilingDBFS), nil
			},
		},
	}
}

func applyGain(tracks Tracks, cfg audio.EffectConfig) (Tracks, error) {
	tracks.Voice = Gain(tracks.Voice, cfg.VoiceGainDB)
	tracks.Background = Gain(tracks.Background, cfg.BackgroundGainDB)

	return tracks, nil
}

func applyLoop(tracks Tracks, _ audio.EffectConfig) (Tracks, error) {
	looped, err := Loop(tracks.Background, tracks.Voice.Frames())
	if err != nil {
		return tracks, err
	}

	tracks.Background = looped

	return tracks, nil
}

func applyDucking(tracks Tracks, cfg audio.EffectConfig) (Tracks, error) {
	ducked, err := Duck(tracks.Voice, tracks.Background, cfg.DuckWindowMs, cfg.DuckThresholdDBFS, cfg.DuckAmountDB)
	if err != nil {
		return tracks, err
	}

	tracks.Background = ducked

	return tracks, nil
}

func applyMix(tracks Tracks, _ audio.EffectConfig) (Tracks, error) {
	master, err := Overlay(tracks.Voice, tracks.Background)
	if err != nil {
		return tracks, err
	}

	return Tracks{Voice: nil, Background: nil, Master: master}, nil
}
