// main package for the audio-mixer-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/codec"
	"github.com/book-expert/audio-mixer-service/internal/config"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/objectstore"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
	"github.com/book-expert/audio-mixer-service/internal/production"
	"github.com/book-expert/audio-mixer-service/internal/server"
	"github.com/book-expert/audio-mixer-service/internal/worker"
)

const (
	bootstrapLogFile = "audio-mixer-service-bootstrap.log"
	serviceLogFile   = "audio-mixer-service.log"
	shutdownTimeout  = 15 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in '%s': %w", logPath, err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve wires the mixing stack to the enabled transports and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	m := metrics.New()
	encoder := codec.NewEncoder(cfg.Encoder.FFmpegPath, log)

	ffmpegErr := encoder.CheckFFmpeg()
	if ffmpegErr != nil && cfg.Mixer.OutputFormat == audio.FormatMP3 {
		log.Warn("MP3 output is the default but ffmpeg is unavailable; mp3 requests will fail: %v", ffmpegErr)
	}

	engine, err := pipeline.NewEngine(encoder, log, pipeline.WithObserver(m))
	if err != nil {
		return fmt.Errorf("failed to create mix engine: %w", err)
	}

	registry := codec.NewRegistry()

	producer, err := production.NewProducer(registry, engine, m, log)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	log.System("Mix engine ready. Stages: %v. Input formats: %v", engine.Stages(), registry.Formats())

	if cfg.HTTP.Enabled {
		httpServer, httpErr := server.NewHTTPServer(server.Config{
			Address:      cfg.HTTP.Address,
			Port:         cfg.HTTP.Port,
			MaxUploadMB:  cfg.HTTP.MaxUploadMB,
			ReadTimeout:  cfg.HTTP.ReadTimeout(),
			WriteTimeout: cfg.HTTP.WriteTimeout(),
			Defaults:     cfg.Mixer,
		}, producer, m, log)
		if httpErr != nil {
			return fmt.Errorf("failed to create HTTP server: %w", httpErr)
		}

		startErr := httpServer.Start()
		if startErr != nil {
			return fmt.Errorf("failed to start HTTP server: %w", startErr)
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			stopErr := httpServer.Stop(shutdownCtx)
			if stopErr != nil {
				log.Error("%v", stopErr)
			}
		}()
	}

	if !cfg.NATS.Enabled {
		<-ctx.Done()
		log.System("Shutdown signal received.")

		return nil
	}

	return runWorker(ctx, cfg, producer, m, log)
}

func runWorker(
	ctx context.Context,
	cfg *config.Config,
	producer *production.Producer,
	m *metrics.Metrics,
	log *logger.Logger,
) error {
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

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:       cfg.NATS.MixSubject,
		QueueGroup:    cfg.NATS.QueueGroup,
		HandleTimeout: cfg.NATS.HandleTimeout(),
		Defaults:      cfg.Mixer,
	}, store, producer, m, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Audio-Mixer-Service successfully initialized. Listening for jobs on subject: %s", cfg.NATS.MixSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	log.System("Worker drained, shutting down.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
