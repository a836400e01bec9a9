// Package config provides the configuration structure for the audio-mixer-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// Defaults for settings left out of the TOML file.
const (
	DefaultMixSubject           = "audio.mix.requested"
	DefaultQueueGroup           = "audio-mixers"
	DefaultObjectStoreBucket    = "AUDIO_FILES"
	DefaultHandleTimeoutSeconds = 300
	DefaultHTTPAddress          = "0.0.0.0"
	DefaultHTTPPort             = 8000
	DefaultMaxUploadMB          = 100
	DefaultReadTimeoutSeconds   = 60
	DefaultWriteTimeoutSeconds  = 300
	DefaultBaseLogsDir          = "logs"

	maxPort = 65535
)

// ErrInvalidConfig indicates a configuration value that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for the NATS job path.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	MixSubject             string `toml:"mix_subject"`
	QueueGroup             string `toml:"queue_group"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	HandleTimeoutSeconds   int    `toml:"handle_timeout_seconds"`
}

// HTTPConfig holds the configuration for the upload endpoint.
type HTTPConfig struct {
	Enabled             bool   `toml:"enabled"`
	Address             string `toml:"address"`
	Port                int    `toml:"port"`
	MaxUploadMB         int    `toml:"max_upload_mb"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// EncoderConfig holds the location of external encoding tools.
type EncoderConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig         `toml:"nats"`
	HTTP    HTTPConfig         `toml:"http"`
	Encoder EncoderConfig      `toml:"encoder"`
	Mixer   audio.EffectConfig `toml:"mixer"`
	Paths   PathsConfig        `toml:"paths"`
}

// Default returns a configuration with every setting at its default.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			Enabled:                true,
			URL:                    nats.DefaultURL,
			MixSubject:             DefaultMixSubject,
			QueueGroup:             DefaultQueueGroup,
			AudioObjectStoreBucket: DefaultObjectStoreBucket,
			HandleTimeoutSeconds:   DefaultHandleTimeoutSeconds,
		},
		HTTP: HTTPConfig{
			Enabled:             true,
			Address:             DefaultHTTPAddress,
			Port:                DefaultHTTPPort,
			MaxUploadMB:         DefaultMaxUploadMB,
			ReadTimeoutSeconds:  DefaultReadTimeoutSeconds,
			WriteTimeoutSeconds: DefaultWriteTimeoutSeconds,
		},
		Encoder: EncoderConfig{FFmpegPath: ""},
		Mixer:   audio.DefaultEffectConfig(),
		Paths:   PathsConfig{BaseLogsDir: DefaultBaseLogsDir},
	}
}

// Load loads the configuration for the audio-mixer-service through the central
// configurator. Keys missing from the file keep their defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// Parse decodes a TOML document over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// Validate checks that the service can start with this configuration.
func (c *Config) Validate() error {
	if !c.NATS.Enabled && !c.HTTP.Enabled {
		return fmt.Errorf("%w: at least one of [nats] or [http] must be enabled", ErrInvalidConfig)
	}

	if c.NATS.Enabled {
		switch {
		case c.NATS.URL == "":
			return fmt.Errorf("%w: nats.url is required", ErrInvalidConfig)
		case c.NATS.MixSubject == "":
			return fmt.Errorf("%w: nats.mix_subject is required", ErrInvalidConfig)
		case c.NATS.AudioObjectStoreBucket == "":
			return fmt.Errorf("%w: nats.audio_object_store_bucket is required", ErrInvalidConfig)
		case c.NATS.HandleTimeoutSeconds <= 0:
			return fmt.Errorf("%w: nats.handle_timeout_seconds must be positive", ErrInvalidConfig)
		}
	}

	if c.HTTP.Enabled {
		switch {
		case c.HTTP.Port <= 0 || c.HTTP.Port > maxPort:
			return fmt.Errorf("%w: http.port %d is out of range", ErrInvalidConfig, c.HTTP.Port)
		case c.HTTP.MaxUploadMB < 0:
			return fmt.Errorf("%w: http.max_upload_mb must be non-negative", ErrInvalidConfig)
		case c.HTTP.ReadTimeoutSeconds < 0 || c.HTTP.WriteTimeoutSeconds < 0:
			return fmt.Errorf("%w: http timeouts must be non-negative", ErrInvalidConfig)
		}
	}

	if c.Paths.BaseLogsDir == "" {
		return fmt.Errorf("%w: paths.base_logs_dir is required", ErrInvalidConfig)
	}

	mixerErr := c.Mixer.Validate()
	if mixerErr != nil {
		return fmt.Errorf("%w: [mixer]: %w", ErrInvalidConfig, mixerErr)
	}

	return nil
}

// HandleTimeout is the per-message deadline of the NATS worker.
func (c NATSConfig) HandleTimeout() time.Duration {
	return time.Duration(c.HandleTimeoutSeconds) * time.Second
}

// ReadTimeout is the HTTP server read timeout.
func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout is the HTTP server write timeout.
func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}
