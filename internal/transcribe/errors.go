package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/mel"
)

// InferenceError reports a failed engine call. Tokens holds the sequence
// decoded before the failure so callers can decide whether to surface it.
type InferenceError struct {
	Op     string // encoder, decoder, start_token, eos, vocab_size
	Step   int    // decode step, -1 outside the decode loop
	Tokens []int64
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("transcribe: inference %s at step %d: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("transcribe: inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Error kinds reported by ErrorKind.
const (
	KindMalformedContainer = "malformed_container"
	KindInvalidAudio       = "invalid_audio"
	KindInference          = "inference"
	KindCancelled          = "cancelled"
	KindClosed             = "closed"
	KindOther              = "other"
)

// ErrorKind classifies err for replies, metrics labels and exit codes.
// It returns "" for a nil error.
func ErrorKind(err error) string {
	var ie *InferenceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrMalformedContainer):
		return KindMalformedContainer
	case errors.Is(err, mel.ErrInvalidAudio):
		return KindInvalidAudio
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &ie):
		return KindInference
	case errors.Is(err, ErrWorkerClosed):
		return KindClosed
	default:
		return KindOther
	}
}
