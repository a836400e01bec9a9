// Package server exposes the mixer over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
	"github.com/book-expert/audio-mixer-service/internal/production"
)

// Routes.
const (
	EndpointRoot    = "/"
	EndpointHealth  = "/health"
	EndpointMetrics = "/metrics"
	EndpointMix     = "/audio_mixer"
)

// Multipart file fields of the mix endpoint.
const (
	FieldVoiceFile      = "voice_file"
	FieldBackgroundFile = "bg_file"
)

const (
	statusSuccess = "sucesso"
	statusError   = "erro"
	statusOnline  = "online"
	statusHealthy = "healthy"

	serviceName      = "audio-mixer-service"
	onlineMessage    = "Audio mixer is running"
	bytesPerMB       = 1 << 20
	multipartMemory  = 32 << 20
	idleTimeout      = 60 * time.Second
	contentTypeJSON  = "application/json"
	corsAllowMethods = "GET, POST, OPTIONS"
)

var (
	// ErrProducerRequired indicates the server was built without a producer.
	ErrProducerRequired = errors.New("producer cannot be nil")
	// ErrMetricsRequired indicates the server was built without metrics.
	ErrMetricsRequired = errors.New("metrics cannot be nil")
	// ErrLoggerRequired indicates the server was built without a logger.
	ErrLoggerRequired = errors.New("logger cannot be nil")
	// ErrMissingFile indicates a required upload field was absent.
	ErrMissingFile = errors.New("missing upload")
	// ErrInvalidForm indicates the request body is not a readable multipart form.
	ErrInvalidForm = errors.New("invalid multipart form")
)

// Producer runs one production job.
type Producer interface {
	Produce(ctx context.Context, in production.Input) (*pipeline.MixResult, error)
}

// Config holds the listener settings and the effect defaults applied to every request.
type Config struct {
	Address      string
	Port         int
	MaxUploadMB  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Defaults     audio.EffectConfig
}

// HTTPServer serves the mix endpoint plus health and metrics.
type HTTPServer struct {
	server    *http.Server
	producer  Producer
	metrics   *metrics.Metrics
	log       *logger.Logger
	config    Config
	startTime time.Time
}

type mixResponse struct {
	Status          string   `json:"status"`
	AudioBase64     string   `json:"audio_base64"`
	Format          string   `json:"formato"`
	DurationSeconds float64  `json:"duracao"`
	LoudnessLUFS    *float64 `json:"lufs"`
	PeakDBFS        *float64 `json:"pico_dbfs"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"mensagem"`
}

// NewHTTPServer creates the server and its routes. It does not listen until Start.
func NewHTTPServer(cfg Config, producer Producer, m *metrics.Metrics, log *logger.Logger) (*HTTPServer, error) {
	switch {
	case producer == nil:
		return nil, ErrProducerRequired
	case m == nil:
		return nil, ErrMetricsRequired
	case log == nil:
		return nil, ErrLoggerRequired
	}

	h := &HTTPServer{
		producer:  producer,
		metrics:   m,
		log:       log,
		config:    cfg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      withCORS(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	return h, nil
}

// Handler returns the root handler, CORS included.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(EndpointHealth, h.withMetrics(EndpointHealth, h.handleHealth))
	mux.HandleFunc(EndpointMix, h.withMetrics(EndpointMix, h.handleMix))
	mux.Handle(EndpointMetrics, h.metrics.Handler())
	mux.HandleFunc(EndpointRoot, h.withMetrics(EndpointRoot, h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, ww.statusCode, time.Since(startTime).Seconds())

		if ww.statusCode >= http.StatusBadRequest {
			errorType := "client_error"
			if ww.statusCode >= http.StatusInternalServerError {
				errorType = "server_error"
			}

			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withCORS allows any origin, as browser front-ends post uploads directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens in the background.
func (h *HTTPServer) Start() error {
	h.log.Info("Starting HTTP server on %s", h.server.Addr)

	go func() {
		err := h.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.log.Info("Stopping HTTP server...")

	shutdownErr := h.server.Shutdown(ctx)
	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", shutdownErr)
	}

	return nil
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != EndpointRoot {
		h.writeError(w, http.StatusNotFound, "not found: "+r.URL.Path)

		return
	}

	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  statusOnline,
		"message": onlineMessage,
	})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusHealthy,
		"service":   serviceName,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

func (h *HTTPServer) handleMix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	if h.config.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.MaxUploadMB)*bytesPerMB)
	}

	input, err := h.readInput(r)
	if err != nil {
		h.log.Warn("Rejected mix request: %v", err)
		h.writeError(w, statusFor(err), err.Error())

		return
	}

	result, err := h.producer.Produce(r.Context(), input)
	if err != nil {
		h.log.Error("Mix request failed: %v", err)
		h.writeError(w, statusFor(err), err.Error())

		return
	}

	summary := production.Summarize(result)

	h.writeJSON(w, http.StatusOK, mixResponse{
		Status:          statusSuccess,
		AudioBase64:     base64.StdEncoding.EncodeToString(result.Encoded),
		Format:          string(summary.Format),
		DurationSeconds: summary.DurationSeconds,
		LoudnessLUFS:    summary.LoudnessLUFS,
		PeakDBFS:        summary.PeakDBFS,
	})
}

func (h *HTTPServer) readInput(r *http.Request) (production.Input, error) {
	parseErr := r.ParseMultipartForm(multipartMemory)
	if parseErr != nil {
		return production.Input{}, fmt.Errorf("%w: %w", ErrInvalidForm, parseErr)
	}

	effects, err := effectsFromForm(r, h.config.Defaults)
	if err != nil {
		return production.Input{}, err
	}

	voice, voiceName, err := readUpload(r, FieldVoiceFile)
	if err != nil {
		return production.Input{}, err
	}

	background, backgroundName, err := readUpload(r, FieldBackgroundFile)
	if err != nil {
		return production.Input{}, err
	}

	return production.Input{
		Voice:              voice,
		VoiceFilename:      voiceName,
		Background:         background,
		BackgroundFilename: backgroundName,
		Effects:            effects,
	}, nil
}

func readUpload(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrMissingFile, field, err)
	}

	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload %s: %w", field, err)
	}

	return data, header.Filename, nil
}

// statusFor maps an error onto the HTTP status reported to the client.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}

	if errors.Is(err, ErrMissingFile) || errors.Is(err, ErrInvalidForm) {
		return http.StatusBadRequest
	}

	switch core.KindOf(err) {
	case core.KindDecode, core.KindPrecondition, core.KindInvalidEffects:
		return http.StatusBadRequest
	case core.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Status: statusError, Message: message})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	encodeErr := json.NewEncoder(w).Encode(body)
	if encodeErr != nil {
		h.log.Warn("Failed to write JSON response: %v", encodeErr)
	}
}
