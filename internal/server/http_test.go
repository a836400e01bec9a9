package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/codec"
	"github.com/book-expert/audio-mixer-service/internal/core"
	"github.com/book-expert/audio-mixer-service/internal/metrics"
	"github.com/book-expert/audio-mixer-service/internal/pipeline"
	"github.com/book-expert/audio-mixer-service/internal/production"
	"github.com/book-expert/audio-mixer-service/internal/server"
)

const testRate = 8000

type stubProducer struct {
	mu     sync.Mutex
	calls  []production.Input
	result *pipeline.MixResult
	err    error
}

func (s *stubProducer) Produce(_ context.Context, in production.Input) (*pipeline.MixResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, in)

	return s.result, s.err
}

func (s *stubProducer) inputs() []production.Input {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]production.Input(nil), s.calls...)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newTestServer(t *testing.T, producer server.Producer, maxUploadMB int) (*server.HTTPServer, *metrics.Metrics) {
	t.Helper()

	m := metrics.New()

	srv, err := server.NewHTTPServer(server.Config{
		Address:      "127.0.0.1",
		Port:         0,
		MaxUploadMB:  maxUploadMB,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		Defaults:     audio.DefaultEffectConfig(),
	}, producer, m, newTestLogger(t))
	require.NoError(t, err)

	return srv, m
}

func successResult() *pipeline.MixResult {
	return &pipeline.MixResult{
		Buffer:       audio.Silence(testRate, testRate, 1),
		Encoded:      []byte("master-bytes"),
		Format:       audio.FormatWAV,
		LoudnessLUFS: math.Inf(-1),
		PeakDBFS:     -3,
	}
}

// multipartBody builds a mix upload. A nil file is left out of the form.
func multipartBody(t *testing.T, voice, background []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	files := []struct {
		field    string
		filename string
		data     []byte
	}{
		{server.FieldVoiceFile, "voice.wav", voice},
		{server.FieldBackgroundFile, "music.wav", background},
	}

	for _, file := range files {
		if file.data == nil {
			continue
		}

		part, err := writer.CreateFormFile(file.field, file.filename)
		require.NoError(t, err)

		_, err = part.Write(file.data)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func postMix(t *testing.T, handler http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, server.EndpointMix, body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))

	return payload
}

func TestNewHTTPServer_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	_, err := server.NewHTTPServer(server.Config{}, nil, metrics.New(), log)
	require.ErrorIs(t, err, server.ErrProducerRequired)

	_, err = server.NewHTTPServer(server.Config{}, &stubProducer{}, nil, log)
	require.ErrorIs(t, err, server.ErrMetricsRequired)

	_, err = server.NewHTTPServer(server.Config{}, &stubProducer{}, metrics.New(), nil)
	require.ErrorIs(t, err, server.ErrLoggerRequired)
}

func TestRoot_ReportsOnline(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "online", decodeJSON(t, rec)["status"])
}

func TestRoot_UnknownPathIsNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "erro", decodeJSON(t, rec)["status"])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.EndpointHealth, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeJSON(t, rec)["status"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.EndpointHealth, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	t.Parallel()

	producer := &stubProducer{}
	srv, _ := newTestServer(t, producer, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, server.EndpointMix, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Empty(t, producer.inputs())
}

func TestMix_RejectsGet(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.EndpointMix, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMix_SuccessPayload(t *testing.T) {
	t.Parallel()

	producer := &stubProducer{result: successResult()}
	srv, m := newTestServer(t, producer, 0)

	body, contentType := multipartBody(t, []byte("voice"), []byte("music"), nil)
	rec := postMix(t, srv.Handler(), body, contentType)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := decodeJSON(t, rec)
	assert.Equal(t, "sucesso", payload["status"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("master-bytes")), payload["audio_base64"])
	assert.Equal(t, "wav", payload["formato"])
	assert.InDelta(t, 1.0, payload["duracao"], 1e-9)
	assert.Nil(t, payload["lufs"])
	assert.InDelta(t, -3.0, payload["pico_dbfs"], 1e-9)

	inputs := producer.inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, []byte("voice"), inputs[0].Voice)
	assert.Equal(t, "voice.wav", inputs[0].VoiceFilename)
	assert.Equal(t, []byte("music"), inputs[0].Background)
	assert.Equal(t, "music.wav", inputs[0].BackgroundFilename)
	assert.Equal(t, audio.DefaultEffectConfig(), inputs[0].Effects)

	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, server.EndpointMix, "200")), 0)
}

func TestMix_FormFieldsOverrideDefaults(t *testing.T) {
	t.Parallel()

	producer := &stubProducer{result: successResult()}
	srv, _ := newTestServer(t, producer, 0)

	body, contentType := multipartBody(t, []byte("voice"), []byte("music"), map[string]string{
		"voice_vol":    "-3",
		"ducking":      "False",
		"fade_in":      "0",
		"eq_bass":      "4.5",
		"comp_ratio":   "6",
		"format":       "WAV",
		"trim_silence": "false",
		"bitrate":      "256",
	})
	rec := postMix(t, srv.Handler(), body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	inputs := producer.inputs()
	require.Len(t, inputs, 1)

	effects := inputs[0].Effects
	assert.InDelta(t, -3.0, effects.VoiceGainDB, 0)
	assert.False(t, effects.Ducking)
	assert.Equal(t, 0, effects.FadeInMs)
	assert.InDelta(t, 4.5, effects.EQBassDB, 0)
	assert.InDelta(t, 6.0, effects.CompRatio, 0)
	assert.Equal(t, audio.FormatWAV, effects.OutputFormat)
	assert.False(t, effects.TrimSilence)
	assert.Equal(t, 256, effects.BitrateKbps)

	assert.InDelta(t, audio.DefaultBackgroundGainDB, effects.BackgroundGainDB, 0)
	assert.Equal(t, audio.DefaultFadeOutMs, effects.FadeOutMs)
}

func TestMix_BadRequests(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		voice      []byte
		background []byte
		fields     map[string]string
	}{
		{"missing background", []byte("voice"), nil, nil},
		{"missing voice", nil, []byte("music"), nil},
		{"unparseable bool", []byte("voice"), []byte("music"), map[string]string{"ducking": "maybe"}},
		{"unparseable number", []byte("voice"), []byte("music"), map[string]string{"bg_vol": "loud"}},
		{"unknown format", []byte("voice"), []byte("music"), map[string]string{"format": "flac"}},
		{"NaN voice volume", []byte("voice"), []byte("music"), map[string]string{"voice_vol": "NaN"}},
		{"infinite background volume", []byte("voice"), []byte("music"), map[string]string{"bg_vol": "Inf"}},
		{"background volume overflow", []byte("voice"), []byte("music"), map[string]string{"bg_vol": "1e308"}},
		{"positive duck amount", []byte("voice"), []byte("music"), map[string]string{"duck_amount": "6"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			producer := &stubProducer{result: successResult()}
			srv, _ := newTestServer(t, producer, 0)

			body, contentType := multipartBody(t, testCase.voice, testCase.background, testCase.fields)
			rec := postMix(t, srv.Handler(), body, contentType)

			require.Equal(t, http.StatusBadRequest, rec.Code)

			payload := decodeJSON(t, rec)
			assert.Equal(t, "erro", payload["status"])
			assert.NotEmpty(t, payload["mensagem"])
			assert.Empty(t, producer.inputs())
		})
	}
}

func TestMix_NotMultipartIsBadRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	rec := postMix(t, srv.Handler(), bytes.NewBufferString(`{"voice":"x"}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMix_ProducerErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{"decode", fmt.Errorf("failed to decode voice track: %w", core.ErrDecode), http.StatusBadRequest},
		{"precondition", core.NewStageError(pipeline.StageLoop, core.ErrPrecondition), http.StatusBadRequest},
		{"invalid effects", audio.ErrInvalidEffects, http.StatusBadRequest},
		{"missing ffmpeg", core.NewStageError(pipeline.StageEncode, core.ErrDependencyUnavailable), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"stage failure", core.NewStageError(pipeline.StageCompressor, errors.New("boom")), http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, &stubProducer{err: testCase.err}, 0)

			body, contentType := multipartBody(t, []byte("voice"), []byte("music"), nil)
			rec := postMix(t, srv.Handler(), body, contentType)

			require.Equal(t, testCase.status, rec.Code)

			payload := decodeJSON(t, rec)
			assert.Equal(t, "erro", payload["status"])
			assert.Equal(t, testCase.err.Error(), payload["mensagem"])
		})
	}
}

func TestMix_UploadLimit(t *testing.T) {
	t.Parallel()

	producer := &stubProducer{result: successResult()}
	srv, _ := newTestServer(t, producer, 1)

	large := bytes.Repeat([]byte{0x55}, 2<<20)
	body, contentType := multipartBody(t, large, []byte("music"), nil)
	rec := postMix(t, srv.Handler(), body, contentType)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, producer.inputs())
}

func TestMetricsEndpoint_ExposesHTTPCounters(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, &stubProducer{}, 0)

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.EndpointMetrics, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mixer_http_requests_total"))
}

func TestMix_EndToEndWAV(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	encoder := codec.NewEncoder("", log)
	m := metrics.New()

	engine, err := pipeline.NewEngine(encoder, log, pipeline.WithObserver(m))
	require.NoError(t, err)

	producer, err := production.NewProducer(codec.NewRegistry(), engine, m, log)
	require.NoError(t, err)

	srv, err := server.NewHTTPServer(server.Config{Defaults: audio.DefaultEffectConfig()}, producer, m, log)
	require.NoError(t, err)

	gen := signal.NewGenerator(dspcore.WithSampleRate(testRate))

	voiceTone, err := gen.Sine(300, 0.5, testRate)
	require.NoError(t, err)

	musicTone, err := gen.Sine(110, 0.5, testRate/2)
	require.NoError(t, err)

	voiceData, err := encoder.Encode(context.Background(), &audio.Buffer{Samples: voiceTone, SampleRate: testRate, Channels: 1}, audio.FormatWAV, 0)
	require.NoError(t, err)

	musicData, err := encoder.Encode(context.Background(), &audio.Buffer{Samples: musicTone, SampleRate: testRate, Channels: 1}, audio.FormatWAV, 0)
	require.NoError(t, err)

	body, contentType := multipartBody(t, voiceData, musicData, map[string]string{"format": "wav"})
	rec := postMix(t, srv.Handler(), body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := decodeJSON(t, rec)
	require.Equal(t, "sucesso", payload["status"])

	master, err := base64.StdEncoding.DecodeString(payload["audio_base64"].(string))
	require.NoError(t, err)

	decoded, err := codec.NewRegistry().Decode(master, "master.wav")
	require.NoError(t, err)

	expectedSeconds := float64(testRate+audio.FramesFor(audio.DefaultFadeOutMs, testRate)) / testRate
	assert.InDelta(t, expectedSeconds, payload["duracao"], 1e-9)
	assert.InDelta(t, expectedSeconds, decoded.Duration().Seconds(), 1e-9)
	assert.InDelta(t, -1.0, payload["pico_dbfs"], 1e-6)
	assert.NotNil(t, payload["lufs"])

	assert.InDelta(t, 1, testutil.ToFloat64(m.Mixes.WithLabelValues(metrics.OutcomeSuccess, "")), 0)
}
