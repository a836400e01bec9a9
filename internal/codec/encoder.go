package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

const (
	outputBitDepth  = 16
	wavPCMFormat    = 1
	int16FullScale  = 32767
	defaultFFmpeg   = "ffmpeg"
	tempFilePattern = "mixer-master-*.wav"
)

// ErrUnsupportedFormat indicates an output format the encoder cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encoder writes 16-bit WAV with go-audio and MP3 through the ffmpeg binary.
type Encoder struct {
	ffmpegPath string
	log        *logger.Logger
}

// NewEncoder creates an encoder. An empty ffmpegPath resolves "ffmpeg" from PATH.
func NewEncoder(ffmpegPath string, log *logger.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = defaultFFmpeg
	}

	return &Encoder{ffmpegPath: ffmpegPath, log: log}
}

// CheckFFmpeg reports whether the configured ffmpeg binary can be found.
func (e *Encoder) CheckFFmpeg() error {
	_, lookErr := exec.LookPath(e.ffmpegPath)
	if lookErr != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrDependencyUnavailable, e.ffmpegPath, lookErr)
	}

	return nil
}

// Encode renders buf in the requested format. A missing ffmpeg binary is reported as
// core.ErrDependencyUnavailable.
func (e *Encoder) Encode(ctx context.Context, buf *audio.Buffer, format audio.Format, bitrateKbps int) ([]byte, error) {
	switch format {
	case audio.FormatWAV:
		return e.encodeWAV(buf)
	case audio.FormatMP3:
		return e.encodeMP3(ctx, buf, bitrateKbps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// encodeWAV stages through a temp file because the go-audio encoder needs to seek
// back and patch chunk sizes.
func (e *Encoder) encodeWAV(buf *audio.Buffer) ([]byte, error) {
	tempFile, err := os.CreateTemp("", tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav output: %w", err)
	}

	defer func() {
		_ = tempFile.Close()

		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	enc := wav.NewEncoder(tempFile, buf.SampleRate, outputBitDepth, buf.Channels, wavPCMFormat)

	writeErr := enc.Write(toIntBuffer(buf))
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", writeErr)
	}

	closeErr := enc.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize wav header: %w", closeErr)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read wav data from temp file: %w", err)
	}

	return data, nil
}

func (e *Encoder) encodeMP3(ctx context.Context, buf *audio.Buffer, bitrateKbps int) ([]byte, error) {
	ffmpegBin, lookErr := exec.LookPath(e.ffmpegPath)
	if lookErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrDependencyUnavailable, e.ffmpegPath, lookErr)
	}

	wavData, err := e.encodeWAV(buf)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "wav",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrateKbps) + "k",
		"-f", "mp3",
		"pipe:1",
	}

	var stdout, stderr bytes.Buffer

	// #nosec G204 -- binary comes from configuration and arguments are fixed
	cmd := exec.CommandContext(ctx, ffmpegBin, args...)
	cmd.Stdin = bytes.NewReader(wavData)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", core.ErrDependencyUnavailable, runErr)
		}

		return nil, fmt.Errorf("ffmpeg mp3 encode failed: %w - output: %s", runErr, stderr.String())
	}

	return stdout.Bytes(), nil
}

func toIntBuffer(buf *audio.Buffer) *goaudio.IntBuffer {
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(math.Round(dspcore.Clamp(s, -1, 1) * int16FullScale))
	}

	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}
}
