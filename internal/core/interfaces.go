// Package core defines the core business interfaces and error kinds for the mixer service.
package core

import (
	"context"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
// Download reports an absent key with an error wrapping ErrObjectNotFound.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// AudioDecoder turns encoded container bytes into a PCM buffer.
// The filename hint is used to pick the container format before sniffing.
type AudioDecoder interface {
	Decode(data []byte, filenameHint string) (*audio.Buffer, error)
}

// AudioEncoder turns a PCM buffer into encoded container bytes.
type AudioEncoder interface {
	Encode(ctx context.Context, buf *audio.Buffer, format audio.Format, bitrateKbps int) ([]byte, error)
}
