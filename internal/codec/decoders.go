package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

const (
	// go-mp3 always emits 16-bit little-endian stereo.
	mp3Channels  = 2
	pcmChunkSize = 4096
)

var (
	// ErrNotWAV indicates the bytes do not carry a RIFF/WAVE header.
	ErrNotWAV = errors.New("not a WAV file")
	// ErrNotAIFF indicates the bytes do not carry a FORM/AIFF header.
	ErrNotAIFF = errors.New("not an AIFF file")
	// ErrUnsupportedBitDepth indicates an integer PCM depth we cannot scale.
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
)

func decodeWAV(data []byte) (*audio.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV PCM data: %w", err)
	}

	return fromIntBuffer(pcm, int(dec.BitDepth), true)
}

func decodeAIFF(data []byte) (*audio.Buffer, error) {
	dec := aiff.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrNotAIFF
	}

	dec.ReadInfo()

	format := dec.Format()
	if format == nil {
		return nil, ErrNotAIFF
	}

	pcm, err := readPCM(dec, format, int(dec.BitDepth))
	if err != nil {
		return nil, fmt.Errorf("failed to read AIFF PCM data: %w", err)
	}

	return fromIntBuffer(pcm, int(dec.BitDepth), false)
}

// pcmReader is the chunked read side of a go-audio decoder.
type pcmReader interface {
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// readPCM drains reader until it reports no more frames. Only io.EOF ends the
// stream cleanly; any other error fails the read even when it comes with data.
func readPCM(reader pcmReader, format *goaudio.Format, bitDepth int) (*goaudio.IntBuffer, error) {
	pcm := &goaudio.IntBuffer{Format: format, Data: make([]int, 0, pcmChunkSize), SourceBitDepth: bitDepth}
	chunk := &goaudio.IntBuffer{Format: format, Data: make([]int, pcmChunkSize), SourceBitDepth: bitDepth}

	for {
		n, err := reader.PCMBuffer(chunk)
		pcm.Data = append(pcm.Data, chunk.Data[:n]...)

		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		if n == 0 || err != nil {
			return pcm, nil
		}
	}
}

func decodeMP3(data []byte) (*audio.Buffer, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read MP3 stream: %w", err)
	}

	frames := len(raw) / (2 * mp3Channels)
	samples := make([]float64, frames*mp3Channels)

	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
		samples[i] = float64(v) / 32768.0
	}

	return audio.NewBuffer(samples, dec.SampleRate(), mp3Channels)
}

func decodeVorbis(data []byte) (*audio.Buffer, error) {
	raw, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read Ogg Vorbis stream: %w", err)
	}

	if format.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", audio.ErrInvalidChannels, format.Channels)
	}

	samples := make([]float64, len(raw)-len(raw)%format.Channels)
	for i := range samples {
		samples[i] = float64(raw[i])
	}

	return audio.NewBuffer(samples, format.SampleRate, format.Channels)
}

// fromIntBuffer scales integer PCM to [-1, 1). unsigned8 marks 8-bit data stored
// with a 128 offset, as WAV does.
func fromIntBuffer(pcm *goaudio.IntBuffer, bitDepth int, unsigned8 bool) (*audio.Buffer, error) {
	if pcm.Format == nil {
		return nil, fmt.Errorf("%w: missing format", ErrUnsupportedBitDepth)
	}

	var fullScale float64

	switch bitDepth {
	case 8:
		fullScale = 128
	case 16:
		fullScale = 32768
	case 24:
		fullScale = 8388608
	case 32:
		fullScale = 2147483648
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	channels := pcm.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", audio.ErrInvalidChannels, channels)
	}

	samples := make([]float64, len(pcm.Data)-len(pcm.Data)%channels)
	for i := range samples {
		samples[i] = float64(pcm.Data[i]) / fullScale
	}

	if bitDepth == 8 && unsigned8 {
		for i := range samples {
			samples[i] -= 1
		}
	}

	return audio.NewBuffer(samples, pcm.Format.SampleRate, channels)
}
