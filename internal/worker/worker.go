// Package worker provides a NATS worker that produces masters from stored tracks.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
	"github.com/book-expert/audio-mixer-service/internal/production"
)

// Worker message results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
)

// KindInvalidRequest labels replies to messages that could not be parsed.
const KindInvalidRequest = "invalid_request"

var (
	// ErrVoiceKeyEmpty indicates that the voice object key is empty.
	ErrVoiceKeyEmpty = errors.New("voice key cannot be empty")
	// ErrBackgroundKeyEmpty indicates that the background object key is empty.
	ErrBackgroundKeyEmpty = errors.New("background key cannot be empty")
	// ErrTimeoutNotPositive indicates a non-positive per-message timeout.
	ErrTimeoutNotPositive = errors.New("handle timeout must be positive")
	// ErrConnectionRequired indicates the worker was built without a NATS connection.
	ErrConnectionRequired = errors.New("nats connection cannot be nil")
	// ErrStoreRequired indicates the worker was built without an object store.
	ErrStoreRequired = errors.New("object store cannot be nil")
	// ErrProducerRequired indicates the worker was built without a producer.
	ErrProducerRequired = errors.New("producer cannot be nil")
	// ErrMetricsRequired indicates the worker was built without metrics.
	ErrMetricsRequired = errors.New("metrics cannot be nil")
	// ErrLoggerRequired indicates the worker was built without a logger.
	ErrLoggerRequired = errors.New("logger cannot be nil")
)

// Producer runs one production job.
type Producer interface {
	Produce(ctx context.Context, in production.Input) (*pipeline.MixResult, error)
}

// MixRequestedEvent asks for a master built from two stored tracks. Effects holds
// optional overrides in the EffectConfig JSON shape; absent keys keep the defaults.
type MixRequestedEvent struct {
	Header             events.EventHeader `json:"header"`
	VoiceKey           string             `json:"voice_key"`
	VoiceFilename      string             `json:"voice_filename"`
	BackgroundKey      string             `json:"background_key"`
	BackgroundFilename string             `json:"background_filename"`
	Effects            json.RawMessage    `json:"effects,omitempty"`
}

// MixCompletedEvent is the reply to a MixRequestedEvent. Error is set on failure and
// every other result field is then empty.
type MixCompletedEvent struct {
	Header          events.EventHeader `json:"header"`
	AudioKey        string             `json:"audio_key,omitempty"`
	Format          audio.Format       `json:"format,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	LoudnessLUFS    *float64           `json:"loudness_lufs,omitempty"`
	PeakDBFS        *float64           `json:"peak_dbfs,omitempty"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// Config holds the subscription settings and effect defaults of the worker.
type Config struct {
	Subject       string
	QueueGroup    string
	HandleTimeout time.Duration
	Defaults      audio.EffectConfig
}

// NatsWorker listens for mix jobs on a NATS subject and replies with the stored master.
type NatsWorker struct {
	natsConnection *nats.Conn
	config         Config
	store          core.ObjectStore
	producer       Producer
	metrics        *metrics.Metrics
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	store core.ObjectStore,
	producer Producer,
	m *metrics.Metrics,
	log *logger.Logger,
) (*NatsWorker, error) {
	switch {
	case natsConnection == nil:
		return nil, ErrConnectionRequired
	case store == nil:
		return nil, ErrStoreRequired
	case producer == nil:
		return nil, ErrProducerRequired
	case m == nil:
		return nil, ErrMetricsRequired
	case log == nil:
		return nil, ErrLoggerRequired
	case cfg.HandleTimeout <= 0:
		return nil, ErrTimeoutNotPositive
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		config:         cfg,
		store:          store,
		producer:       producer,
		metrics:        m,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.config.Subject, w.config.QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.config.Subject, err)
	}

	w.log.Info("Worker listening on subject %s (queue %s)", w.config.Subject, w.config.QueueGroup)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.HandleTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.metrics.RecordWorkerMessage(ResultInvalid)
		w.reply(msg, &MixCompletedEvent{
			Header:    replyHeader(events.EventHeader{}),
			ErrorKind: KindInvalidRequest,
			Error:     err.Error(),
		})

		return
	}

	replyEvent, processErr := w.processMixJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process mix job for workflow %s: %v", event.Header.WorkflowID, processErr)
		w.metrics.RecordWorkerMessage(ResultFailure)
		w.reply(msg, &MixCompletedEvent{
			Header:    replyHeader(event.Header),
			ErrorKind: core.KindOf(processErr),
			Error:     processErr.Error(),
		})

		return
	}

	w.metrics.RecordWorkerMessage(ResultSuccess)
	w.reply(msg, replyEvent)
}

// processMixJob downloads both tracks, produces the master and uploads it.
func (w *NatsWorker) processMixJob(ctx context.Context, event *MixRequestedEvent) (*MixCompletedEvent, error) {
	effects, err := w.effectsFor(event)
	if err != nil {
		return nil, err
	}

	voice, err := w.store.Download(ctx, event.VoiceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download voice track for key '%s': %w", event.VoiceKey, err)
	}

	background, err := w.store.Download(ctx, event.BackgroundKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download background track for key '%s': %w", event.BackgroundKey, err)
	}

	result, err := w.producer.Produce(ctx, production.Input{
		Voice:              voice,
		VoiceFilename:      filenameOr(event.VoiceFilename, event.VoiceKey),
		Background:         background,
		BackgroundFilename: filenameOr(event.BackgroundFilename, event.BackgroundKey),
		Effects:            effects,
	})
	if err != nil {
		return nil, err
	}

	audioKey := uuid.NewString() + "." + string(result.Format)

	err = w.store.Upload(ctx, audioKey, result.Encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to upload master for key '%s': %w", audioKey, err)
	}

	summary := production.Summarize(result)

	return &MixCompletedEvent{
		Header:          replyHeader(event.Header),
		AudioKey:        audioKey,
		Format:          summary.Format,
		DurationSeconds: summary.DurationSeconds,
		LoudnessLUFS:    summary.LoudnessLUFS,
		PeakDBFS:        summary.PeakDBFS,
	}, nil
}

// effectsFor overlays the event's overrides on the configured defaults and validates the result.
func (w *NatsWorker) effectsFor(event *MixRequestedEvent) (audio.EffectConfig, error) {
	effects := w.config.Defaults

	if len(bytes.TrimSpace(event.Effects)) == 0 {
		return effects, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(event.Effects))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&effects)
	if err != nil {
		return audio.EffectConfig{}, fmt.Errorf("%w: failed to decode effect overrides: %w", audio.ErrInvalidEffects, err)
	}

	validateErr := effects.Validate()
	if validateErr != nil {
		return audio.EffectConfig{}, validateErr
	}

	return effects, nil
}

// reply marshals and responds with the MixCompletedEvent. Messages without a reply
// subject are fire-and-forget and get no response.
func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *MixCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply event for workflow %s: %v", replyEvent.Header.WorkflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", replyEvent.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*MixRequestedEvent, error) {
	var event MixRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.VoiceKey == "" {
		return nil, ErrVoiceKeyEmpty
	}

	if event.BackgroundKey == "" {
		return nil, ErrBackgroundKeyEmpty
	}

	return &event, nil
}

// replyHeader keeps the workflow identity of the request under a fresh event ID.
func replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.Timestamp = time.Now()
	header.EventID = uuid.NewString()

	return header
}

func filenameOr(filename, key string) string {
	if filename != "" {
		return filename
	}

	return key
}
