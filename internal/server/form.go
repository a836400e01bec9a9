package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// formField applies one optional multipart field on top of the configured defaults.
type formField struct {
	name  string
	apply func(cfg *audio.EffectConfig, value string) error
}

var formFields = []formField{
	{"voice_vol", floatField(func(c *audio.EffectConfig, v float64) { c.VoiceGainDB = v })},
	{"bg_vol", floatField(func(c *audio.EffectConfig, v float64) { c.BackgroundGainDB = v })},
	{"ducking", boolField(func(c *audio.EffectConfig, v bool) { c.Ducking = v })},
	{"duck_amount", floatField(func(c *audio.EffectConfig, v float64) { c.DuckAmountDB = v })},
	{"fade_in", intField(func(c *audio.EffectConfig, v int) { c.FadeInMs = v })},
	{"fade_out", intField(func(c *audio.EffectConfig, v int) { c.FadeOutMs = v })},
	{"trim_silence", boolField(func(c *audio.EffectConfig, v bool) { c.TrimSilence = v })},
	{"trim_pad", intField(func(c *audio.EffectConfig, v int) { c.TrimPadMs = v })},
	{"eq_bass", floatField(func(c *audio.EffectConfig, v float64) { c.EQBassDB = v })},
	{"eq_treble", floatField(func(c *audio.EffectConfig, v float64) { c.EQTrebleDB = v })},
	{"compressor", boolField(func(c *audio.EffectConfig, v bool) { c.Compressor = v })},
	{"comp_threshold", floatField(func(c *audio.EffectConfig, v float64) { c.CompThresholdDBFS = v })},
	{"comp_ratio", floatField(func(c *audio.EffectConfig, v float64) { c.CompRatio = v })},
	{"comp_attack", floatField(func(c *audio.EffectConfig, v float64) { c.CompAttackMs = v })},
	{"comp_release", floatField(func(c *audio.EffectConfig, v float64) { c.CompReleaseMs = v })},
	{"comp_makeup", floatField(func(c *audio.EffectConfig, v float64) { c.CompMakeupDB = v })},
	{"limiter", boolField(func(c *audio.EffectConfig, v bool) { c.Limiter = v })},
	{"limiter_ceiling", floatField(func(c *audio.EffectConfig, v float64) { c.LimiterCeilingDBFS = v })},
	{"normalize_headroom", floatField(func(c *audio.EffectConfig, v float64) { c.NormalizeHeadroomDB = v })},
	{"format", formatField},
	{"bitrate", intField(func(c *audio.EffectConfig, v int) { c.BitrateKbps = v })},
}

// effectsFromForm starts from defaults and overrides every field present in the form.
// Parse failures and out-of-range results are reported as audio.ErrInvalidEffects.
func effectsFromForm(r *http.Request, defaults audio.EffectConfig) (audio.EffectConfig, error) {
	cfg := defaults

	for _, field := range formFields {
		value := strings.TrimSpace(r.FormValue(field.name))
		if value == "" {
			continue
		}

		applyErr := field.apply(&cfg, value)
		if applyErr != nil {
			return audio.EffectConfig{}, fmt.Errorf("%w: field %s: %w", audio.ErrInvalidEffects, field.name, applyErr)
		}
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return audio.EffectConfig{}, validateErr
	}

	return cfg, nil
}

func floatField(set func(*audio.EffectConfig, float64)) func(*audio.EffectConfig, string) error {
	return func(cfg *audio.EffectConfig, value string) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}

		set(cfg, v)

		return nil
	}
}

func intField(set func(*audio.EffectConfig, int)) func(*audio.EffectConfig, string) error {
	return func(cfg *audio.EffectConfig, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		set(cfg, v)

		return nil
	}
}

func boolField(set func(*audio.EffectConfig, bool)) func(*audio.EffectConfig, string) error {
	return func(cfg *audio.EffectConfig, value string) error {
		v, err := strconv.ParseBool(strings.ToLower(value))
		if err != nil {
			return err
		}

		set(cfg, v)

		return nil
	}
}

func formatField(cfg *audio.EffectConfig, value string) error {
	format, err := audio.ParseFormat(value)
	if err != nil {
		return err
	}

	cfg.OutputFormat = format

	return nil
}
