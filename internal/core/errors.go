package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/audio-mixer-service/internal/audio"
)

// Error kinds surfaced by the mixing core. Transport layers map them to responses.
var (
	// ErrDecode indicates input bytes are not a supported or parseable audio format.
	ErrDecode = errors.New("audio decode failed")
	// ErrPrecondition indicates mismatched buffer properties or an empty background.
	ErrPrecondition = errors.New("precondition violation")
	// ErrObjectNotFound indicates an ObjectStore has no object under the requested key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrDependencyUnavailable indicates a required processing dependency is missing.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrMixFailure indicates any other failure inside a named pipeline stage.
	ErrMixFailure = errors.New("mix failure")
)

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

// NewStageError wraps err for stage. When err already carries one of the error
// kinds that kind is kept, otherwise the failure is classified as ErrMixFailure.
func NewStageError(stage string, err error) *StageError {
	kind := ErrMixFailure

	for _, known := range []error{ErrDecode, ErrPrecondition, ErrDependencyUnavailable} {
		if errors.Is(err, known) {
			kind = known

			break
		}
	}

	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}

	return fmt.Sprintf("stage %s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Kind labels for metrics and logs.
const (
	KindDecode                = "decode"
	KindPrecondition          = "precondition"
	KindInvalidEffects        = "invalid_effects"
	KindNotFound              = "not_found"
	KindDependencyUnavailable = "dependency_unavailable"
	KindTimeout               = "timeout"
	KindMixFailure            = "mix_failure"
)

// KindOf maps err onto one of the Kind labels. Unknown errors are mix failures.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, audio.ErrInvalidEffects):
		return KindInvalidEffects
	case errors.Is(err, ErrObjectNotFound):
		return KindNotFound
	case errors.Is(err, ErrDependencyUnavailable):
		return KindDependencyUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	default:
		return KindMixFailure
	}
}
