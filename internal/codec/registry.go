// Package codec decodes uploaded audio containers into PCM buffers and encodes mixed
// masters for transport.
package codec

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/audio-mixer-service/internal/audio"
	"github.com/book-expert/audio-mixer-service/internal/core"
)

// decodeFunc turns container bytes into a PCM buffer.
type decodeFunc func(data []byte) (*audio.Buffer, error)

// container describes one supported input format.
type container struct {
	name       string
	extensions []string
	sniff      func(data []byte) bool
	decode     decodeFunc
}

// Registry picks a decoder by filename extension and falls back to magic bytes.
type Registry struct {
	containers []container
}

// NewRegistry returns a registry with WAV, AIFF, MP3 and Ogg Vorbis decoders.
func NewRegistry() *Registry {
	return &Registry{
		containers: []container{
			{name: "wav", extensions: []string{".wav", ".wave"}, sniff: isWAV, decode: decodeWAV},
			{name: "aiff", extensions: []string{".aif", ".aiff", ".aifc"}, sniff: isAIFF, decode: decodeAIFF},
			{name: "ogg", extensions: []string{".ogg", ".oga"}, sniff: isOgg, decode: decodeVorbis},
			{name: "mp3", extensions: []string{".mp3"}, sniff: isMP3, decode: decodeMP3},
		},
	}
}

// Formats lists the registered container names.
func (r *Registry) Formats() []string {
	names := make([]string, 0, len(r.containers))
	for _, c := range r.containers {
		names = append(names, c.name)
	}

	return names
}

// Decode decodes data, using filenameHint's extension to choose the container when it
// is recognized. All failures wrap core.ErrDecode.
func (r *Registry) Decode(data []byte, filenameHint string) (*audio.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", core.ErrDecode, filenameHint)
	}

	c, ok := r.byExtension(filenameHint)
	if !ok {
		c, ok = r.bySniffing(data)
	}

	if !ok {
		return nil, fmt.Errorf("%w: unrecognized container for %q", core.ErrDecode, filenameHint)
	}

	buf, err := c.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s file %q: %w", core.ErrDecode, c.name, filenameHint, err)
	}

	if buf.Frames() == 0 {
		return nil, fmt.Errorf("%w: %s file %q has no audio frames", core.ErrDecode, c.name, filenameHint)
	}

	return buf, nil
}

func (r *Registry) byExtension(filename string) (container, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return container{}, false
	}

	for _, c := range r.containers {
		for _, candidate := range c.extensions {
			if candidate == ext {
				return c, true
			}
		}
	}

	return container{}, false
}

func (r *Registry) bySniffing(data []byte) (container, bool) {
	for _, c := range r.containers {
		if c.sniff(data) {
			return c, true
		}
	}

	return container{}, false
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func isAIFF(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("FORM")) {
		return false
	}

	kind := data[8:12]

	return bytes.Equal(kind, []byte("AIFF")) || bytes.Equal(kind, []byte("AIFC"))
}

func isOgg(data []byte) bool {
	return bytes.HasPrefix(data, []byte("OggS"))
}

// isMP3 accepts an ID3v2 tag or an MPEG audio frame sync.
func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}

	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
