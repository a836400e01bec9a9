package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Default effect settings for a narration-over-music master.
const (
	DefaultVoiceGainDB         = 0.0
	DefaultBackgroundGainDB    = -18.0
	DefaultDuckAmountDB        = -14.0
	DefaultDuckWindowMs        = 150
	DefaultDuckThresholdDBFS   = -35.0
	DefaultFadeInMs            = 100
	DefaultFadeOutMs           = 2500
	DefaultTrimPadMs           = 80
	DefaultTrimThresholdDBFS   = -40.0
	DefaultTrimMinSilenceMs    = 200
	DefaultCompThresholdDBFS   = -18.0
	DefaultCompRatio           = 3.0
	DefaultCompAttackMs        = 5.0
	DefaultCompReleaseMs       = 120.0
	DefaultLimiterCeilingDBFS  = -1.0
	DefaultNormalizeHeadroomDB = 1.0
	DefaultBitrateKbps         = 192
	DefaultOutputFormat        = FormatMP3
	fallbackTailMs             = 1500
	maxWindowMs                = 10000
	maxFadeMs                  = 60000
	maxBoostDB                 = 24.0
	maxGainDB                  = 60.0
	minLevelDBFS               = -120.0
	maxCompRatio               = 100.0
	minCompAttackMs            = 0.1
	maxCompAttackMs            = 1000.0
	minCompReleaseMs           = 1.0
	maxCompReleaseMs           = 5000.0
	minBitrateKbps             = 32
	maxBitrateKbps             = 320
)

// Error message formats.
const (
	errFmtNonNegative   = "%w: %s must be non-negative, got %v"
	errFmtRange         = "%w: %s must be between %v and %v, got %v"
	errFmtNotPositive   = "%w: %s must be positive, got %v"
	errFmtNotFinite     = "%w: %s must be a finite number, got %v"
	errFmtUnknownFormat = "%w: unsupported output format %q"
)

// ErrInvalidEffects indicates an effect setting is outside its accepted range.
var ErrInvalidEffects = errors.New("invalid effect settings")

// Format is an encoded output container.
type Format string

// Supported output formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// ParseFormat normalizes a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		return FormatMP3, nil
	default:
		return "", fmt.Errorf(errFmtUnknownFormat, ErrInvalidEffects, name)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatWAV {
		return "audio/wav"
	}

	return "audio/mpeg"
}

// EffectConfig is the per-request set of mixing options, one group per stage.
// It is copied by value and never mutated once a mix starts.
type EffectConfig struct {
	TrimSilence       bool    `json:"trim_silence"          toml:"trim_silence"`
	TrimPadMs         int     `json:"trim_pad_ms"           toml:"trim_pad_ms"`
	TrimThresholdDBFS float64 `json:"trim_threshold_dbfs"   toml:"trim_threshold_dbfs"`
	TrimMinSilenceMs  int     `json:"trim_min_silence_ms"   toml:"trim_min_silence_ms"`

	EQBassDB   float64 `json:"eq_bass_db"   toml:"eq_bass_db"`
	EQTrebleDB float64 `json:"eq_treble_db" toml:"eq_treble_db"`

	VoiceGainDB      float64 `json:"voice_gain_db" toml:"voice_gain_db"`
	BackgroundGainDB float64 `json:"bg_gain_db"    toml:"bg_gain_db"`

	FadeInMs  int `json:"fade_in_ms"  toml:"fade_in_ms"`
	FadeOutMs int `json:"fade_out_ms" toml:"fade_out_ms"`

	Ducking           bool    `json:"ducking"             toml:"ducking"`
	DuckWindowMs      int     `json:"duck_window_ms"      toml:"duck_window_ms"`
	DuckThresholdDBFS float64 `json:"duck_threshold_dbfs" toml:"duck_threshold_dbfs"`
	DuckAmountDB      float64 `json:"duck_amount_db"      toml:"duck_amount_db"`

	Compressor        bool    `json:"compressor"          toml:"compressor"`
	CompThresholdDBFS float64 `json:"comp_threshold_dbfs" toml:"comp_threshold_dbfs"`
	CompRatio         float64 `json:"comp_ratio"          toml:"comp_ratio"`
	CompAttackMs      float64 `json:"comp_attack_ms"      toml:"comp_attack_ms"`
	CompReleaseMs     float64 `json:"comp_release_ms"     toml:"comp_release_ms"`
	CompMakeupDB      float64 `json:"comp_makeup_db"      toml:"comp_makeup_db"`

	Limiter            bool    `json:"limiter"              toml:"limiter"`
	LimiterCeilingDBFS float64 `json:"limiter_ceiling_dbfs" toml:"limiter_ceiling_dbfs"`

	Normalize           bool    `json:"normalize"             toml:"normalize"`
	NormalizeHeadroomDB float64 `json:"normalize_headroom_db" toml:"normalize_headroom_db"`

	OutputFormat Format `json:"output_format" toml:"output_format"`
	BitrateKbps  int    `json:"bitrate_kbps"  toml:"bitrate_kbps"`
}

// DefaultEffectConfig provides the production defaults for a narration mix.
func DefaultEffectConfig() EffectConfig {
	return EffectConfig{
		TrimSilence:         true,
		TrimPadMs:           DefaultTrimPadMs,
		TrimThresholdDBFS:   DefaultTrimThresholdDBFS,
		TrimMinSilenceMs:    DefaultTrimMinSilenceMs,
		VoiceGainDB:         DefaultVoiceGainDB,
		BackgroundGainDB:    DefaultBackgroundGainDB,
		FadeInMs:            DefaultFadeInMs,
		FadeOutMs:           DefaultFadeOutMs,
		Ducking:             true,
		DuckWindowMs:        DefaultDuckWindowMs,
		DuckThresholdDBFS:   DefaultDuckThresholdDBFS,
		DuckAmountDB:        DefaultDuckAmountDB,
		Compressor:          true,
		CompThresholdDBFS:   DefaultCompThresholdDBFS,
		CompRatio:           DefaultCompRatio,
		CompAttackMs:        DefaultCompAttackMs,
		CompReleaseMs:       DefaultCompReleaseMs,
		Limiter:             true,
		LimiterCeilingDBFS:  DefaultLimiterCeilingDBFS,
		Normalize:           true,
		NormalizeHeadroomDB: DefaultNormalizeHeadroomDB,
		OutputFormat:        DefaultOutputFormat,
		BitrateKbps:         DefaultBitrateKbps,
	}
}

// TailMs is the silence appended to the voice before the mix.
func (c EffectConfig) TailMs() int {
	if c.FadeOutMs > 0 {
		return c.FadeOutMs
	}

	return fallbackTailMs
}

// Validate checks that every setting is within the range the pipeline accepts.
func (c EffectConfig) Validate() error {
	finiteErr := c.validateFinite()
	if finiteErr != nil {
		return finiteErr
	}

	trimErr := c.validateTrim()
	if trimErr != nil {
		return trimErr
	}

	levelErr := c.validateLevels()
	if levelErr != nil {
		return levelErr
	}

	duckErr := c.validateDucking()
	if duckErr != nil {
		return duckErr
	}

	dynamicsErr := c.validateDynamics()
	if dynamicsErr != nil {
		return dynamicsErr
	}

	return c.validateOutput()
}

// validateFinite rejects NaN and infinities in every float setting, enabled or not.
func (c EffectConfig) validateFinite() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"trim_threshold_dbfs", c.TrimThresholdDBFS},
		{"eq_bass_db", c.EQBassDB},
		{"eq_treble_db", c.EQTrebleDB},
		{"voice_gain_db", c.VoiceGainDB},
		{"bg_gain_db", c.BackgroundGainDB},
		{"duck_threshold_dbfs", c.DuckThresholdDBFS},
		{"duck_amount_db", c.DuckAmountDB},
		{"comp_threshold_dbfs", c.CompThresholdDBFS},
		{"comp_ratio", c.CompRatio},
		{"comp_attack_ms", c.CompAttackMs},
		{"comp_release_ms", c.CompReleaseMs},
		{"comp_makeup_db", c.CompMakeupDB},
		{"limiter_ceiling_dbfs", c.LimiterCeilingDBFS},
		{"normalize_headroom_db", c.NormalizeHeadroomDB},
	}

	for _, field := range fields {
		if math.IsNaN(field.value) || math.IsInf(field.value, 0) {
			return fmt.Errorf(errFmtNotFinite, ErrInvalidEffects, field.name, field.value)
		}
	}

	return nil
}

func (c EffectConfig) validateTrim() error {
	if c.TrimPadMs < 0 {
		return fmt.Errorf(errFmtNonNegative, ErrInvalidEffects, "trim_pad_ms", c.TrimPadMs)
	}

	if c.TrimMinSilenceMs < 0 || c.TrimMinSilenceMs > maxWindowMs {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "trim_min_silence_ms", 0, maxWindowMs, c.TrimMinSilenceMs)
	}

	if c.TrimThresholdDBFS < minLevelDBFS || c.TrimThresholdDBFS > 0 {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "trim_threshold_dbfs", minLevelDBFS, 0, c.TrimThresholdDBFS)
	}

	return nil
}

func (c EffectConfig) validateLevels() error {
	if c.EQBassDB > maxBoostDB {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "eq_bass_db", 0, maxBoostDB, c.EQBassDB)
	}

	if c.EQTrebleDB > maxBoostDB {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "eq_treble_db", 0, maxBoostDB, c.EQTrebleDB)
	}

	if math.Abs(c.VoiceGainDB) > maxGainDB {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "voice_gain_db", -maxGainDB, maxGainDB, c.VoiceGainDB)
	}

	if math.Abs(c.BackgroundGainDB) > maxGainDB {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "bg_gain_db", -maxGainDB, maxGainDB, c.BackgroundGainDB)
	}

	if c.FadeInMs < 0 || c.FadeInMs > maxFadeMs {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "fade_in_ms", 0, maxFadeMs, c.FadeInMs)
	}

	if c.FadeOutMs < 0 || c.FadeOutMs > maxFadeMs {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "fade_out_ms", 0, maxFadeMs, c.FadeOutMs)
	}

	return nil
}

func (c EffectConfig) validateDucking() error {
	if !c.Ducking {
		return nil
	}

	if c.DuckWindowMs <= 0 || c.DuckWindowMs > maxWindowMs {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "duck_window_ms", 1, maxWindowMs, c.DuckWindowMs)
	}

	if c.DuckThresholdDBFS < minLevelDBFS || c.DuckThresholdDBFS > 0 {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "duck_threshold_dbfs", minLevelDBFS, 0, c.DuckThresholdDBFS)
	}

	if c.DuckAmountDB < -maxGainDB || c.DuckAmountDB > 0 {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "duck_amount_db", -maxGainDB, 0, c.DuckAmountDB)
	}

	return nil
}

func (c EffectConfig) validateDynamics() error {
	if c.Compressor {
		if c.CompRatio < 1 || c.CompRatio > maxCompRatio {
			return fmt.Errorf(errFmtRange, ErrInvalidEffects, "comp_ratio", 1, maxCompRatio, c.CompRatio)
		}

		if c.CompAttackMs < minCompAttackMs || c.CompAttackMs > maxCompAttackMs {
			return fmt.Errorf(errFmtRange, ErrInvalidEffects, "comp_attack_ms",
				minCompAttackMs, maxCompAttackMs, c.CompAttackMs)
		}

		if c.CompReleaseMs < minCompReleaseMs || c.CompReleaseMs > maxCompReleaseMs {
			return fmt.Errorf(errFmtRange, ErrInvalidEffects, "comp_release_ms",
				minCompReleaseMs, maxCompReleaseMs, c.CompReleaseMs)
		}

		if c.CompThresholdDBFS < minLevelDBFS || c.CompThresholdDBFS > 0 {
			return fmt.Errorf(errFmtRange, ErrInvalidEffects, "comp_threshold_dbfs",
				minLevelDBFS, 0, c.CompThresholdDBFS)
		}

		if c.CompMakeupDB < 0 || c.CompMakeupDB > maxBoostDB {
			return fmt.Errorf(errFmtRange, ErrInvalidEffects, "comp_makeup_db", 0, maxBoostDB, c.CompMakeupDB)
		}
	}

	if c.NormalizeHeadroomDB < 0 || c.NormalizeHeadroomDB > maxGainDB {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "normalize_headroom_db", 0, maxGainDB, c.NormalizeHeadroomDB)
	}

	if c.LimiterCeilingDBFS < -maxGainDB || c.LimiterCeilingDBFS > 0 {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "limiter_ceiling_dbfs", -maxGainDB, 0, c.LimiterCeilingDBFS)
	}

	return nil
}

func (c EffectConfig) validateOutput() error {
	_, formatErr := ParseFormat(string(c.OutputFormat))
	if formatErr != nil {
		return formatErr
	}

	if c.OutputFormat == FormatMP3 && (c.BitrateKbps < minBitrateKbps || c.BitrateKbps > maxBitrateKbps) {
		return fmt.Errorf(errFmtRange, ErrInvalidEffects, "bitrate_kbps", minBitrateKbps, maxBitrateKbps, c.BitrateKbps)
	}

	if c.BitrateKbps < 0 {
		return fmt.Errorf(errFmtNotPositive, ErrInvalidEffects, "bitrate_kbps", c.BitrateKbps)
	}

	return nil
}
