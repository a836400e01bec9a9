// main package for the mixer-client, which submits a mix job over NATS and saves the master.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/audio-mixer-service/internal/config"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/objectstore"
	"github.com/book-expert/audio-mixer-service/internal/worker"
)

// Flag names.
const (
	flagVoice   = "voice"
	flagMusic   = "music"
	flagOutput  = "output"
	flagEffects = "effects"
	flagConfig  = "config"
	flagTimeout = "timeout"
	flagHealth  = "health"
)

// Flag descriptions.
const (
	flagVoiceDesc   = "Narration file to mix (wav, aiff, ogg, mp3)"
	flagMusicDesc   = "Background music file to mix under the narration"
	flagOutputDesc  = "Output file path (defaults to master.<format> next to the voice file)"
	flagEffectsDesc = `JSON effect overrides, e.g. '{"bg_gain_db": -20, "output_format": "wav"}'`
	flagConfigDesc  = "Path to a service TOML file for NATS settings (defaults are used otherwise)"
	flagTimeoutDesc = "How long to wait for the master"
	flagHealthDesc  = "Check the HTTP service at this base URL and exit, e.g. http://localhost:8000"
)

const (
	logFileName    = "mixer-client.log"
	defaultTimeout = 5 * time.Minute
	masterBaseName = "master"
)

var (
	// ErrVoiceRequired indicates the -voice flag was not given.
	ErrVoiceRequired = errors.New("--voice must be provided")
	// ErrMusicRequired indicates the -music flag was not given.
	ErrMusicRequired = errors.New("--music must be provided")
	// ErrInvalidEffectsJSON indicates the -effects flag is not valid JSON.
	ErrInvalidEffectsJSON = errors.New("--effects must be a JSON object")
	// ErrJobFailed indicates the service replied with an error.
	ErrJobFailed = errors.New("mix job failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	voice   string
	music   string
	output  string
	effects string
	config  string
	health  string
	timeout time.Duration
}

// job is one submission: local inputs plus optional overrides.
type job struct {
	voicePath string
	musicPath string
	effects   json.RawMessage
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	if flags.health != "" {
		return handleHealthCheck(flags.health)
	}

	validateErr := validateFlags(flags)
	if validateErr != nil {
		return validateErr
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		_ = log.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	log.Info("Submitting mix of '%s' and '%s' on %s", flags.voice, flags.music, cfg.NATS.MixSubject)

	reply, master, err := submit(ctx, natsConnection, store, cfg.NATS.MixSubject, job{
		voicePath: flags.voice,
		musicPath: flags.music,
		effects:   json.RawMessage(flags.effects),
	})
	if err != nil {
		log.Error("Mix job failed: %v", err)

		return err
	}

	outputPath := resolveOutputPath(flags.output, flags.voice, string(reply.Format))

	writeErr := os.WriteFile(outputPath, master, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write master to '%s': %w", outputPath, writeErr)
	}

	log.Info("Saved master %s (%.2fs) to %s", reply.AudioKey, reply.DurationSeconds, outputPath)
	fmt.Printf("Generated: %s\n", outputPath)

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string, output io.Writer) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("mixer-client", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.music, flagMusic, "", flagMusicDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.effects, flagEffects, "", flagEffectsDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.health, flagHealth, "", flagHealthDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	uptime, err := checkHealth(ctx, &http.Client{Timeout: healthCheckTimeout}, baseURL)
	if err != nil {
		fmt.Printf("Mixer service is not healthy: %v\n", err)

		return err
	}

	fmt.Printf("Mixer service is healthy (uptime %s)\n", uptime)

	return nil
}

// validateFlags checks required and well-formed arguments.
func validateFlags(flags appFlags) error {
	if flags.voice == "" {
		return ErrVoiceRequired
	}

	if flags.music == "" {
		return ErrMusicRequired
	}

	if flags.effects != "" {
		var overrides map[string]any

		err := json.Unmarshal([]byte(flags.effects), &overrides)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEffectsJSON, err)
		}
	}

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()

		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config '%s': %w", path, err)
	}

	return config.Parse(data)
}

// resolveOutputPath defaults to master.<format> in the voice file's directory.
func resolveOutputPath(output, voicePath, format string) string {
	if output != "" {
		return output
	}

	return filepath.Join(filepath.Dir(voicePath), masterBaseName+"."+format)
}

// submit uploads both inputs, requests the mix and downloads the resulting master.
func submit(
	ctx context.Context,
	natsConnection *nats.Conn,
	store core.ObjectStore,
	subject string,
	j job,
) (*worker.MixCompletedEvent, []byte, error) {
	voiceKey, err := uploadFile(ctx, store, j.voicePath)
	if err != nil {
		return nil, nil, err
	}

	musicKey, err := uploadFile(ctx, store, j.musicPath)
	if err != nil {
		return nil, nil, err
	}

	event := worker.MixRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		VoiceKey:           voiceKey,
		VoiceFilename:      filepath.Base(j.voicePath),
		BackgroundKey:      musicKey,
		BackgroundFilename: filepath.Base(j.musicPath),
		Effects:            j.effects,
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal mix request: %w", err)
	}

	replyMsg, err := natsConnection.RequestWithContext(ctx, subject, eventData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to request mix on %s: %w", subject, err)
	}

	var reply worker.MixCompletedEvent

	err = json.Unmarshal(replyMsg.Data, &reply)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal mix reply: %w", err)
	}

	if reply.Error != "" {
		return nil, nil, fmt.Errorf("%w (%s): %s", ErrJobFailed, reply.ErrorKind, reply.Error)
	}

	master, err := store.Download(ctx, reply.AudioKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download master '%s': %w", reply.AudioKey, err)
	}

	return &reply, master, nil
}

func uploadFile(ctx context.Context, store core.ObjectStore, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read '%s': %w", path, err)
	}

	key := uuid.NewString() + filepath.Ext(path)

	uploadErr := store.Upload(ctx, key, data)
	if uploadErr != nil {
		return "", fmt.Errorf("failed to upload '%s': %w", path, uploadErr)
	}

	return key, nil
}
