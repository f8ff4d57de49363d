package transcribe

import (
	"context"
	"fmt"
)

// Tensor is a dense float32 tensor exchanged with an inference engine.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Engine is the inference backend: a Whisper-style encoder, a decoder that
// consumes the full token history each step, and scalar metadata.
// Implementations need not be safe for concurrent use; see Worker.
type Engine interface {
	Encode(ctx context.Context, features Tensor) (Tensor, error)
	DecodeStep(ctx context.Context, tokens []int64, hidden Tensor) (Tensor, error)
	StartTokenID(ctx context.Context) (int64, error)
	EOSID(ctx context.Context) (int64, error)
	VocabSize(ctx context.Context) (int, error)
}

// CachedDecoder is implemented by engines that keep decoder state between
// calls and only need the newest token plus its cache position.
type CachedDecoder interface {
	DecodeCached(ctx context.Context, token int64, hidden Tensor, cachePosition int64) (Tensor, error)
}

// Protocol selects how the decoder is driven.
type Protocol string

const (
	// ProtocolAuto uses the cached protocol when the engine supports it.
	ProtocolAuto   Protocol = "auto"
	ProtocolFull   Protocol = "full"
	ProtocolCached Protocol = "cached"
)

// ParseProtocol validates a protocol name. The empty string means auto.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case "", ProtocolAuto:
		return ProtocolAuto, nil
	case ProtocolFull, ProtocolCached:
		return Protocol(s), nil
	default:
		return "", fmt.Errorf("transcribe: unknown decode protocol %q (supported: auto, full, cached)", s)
	}
}

// resolve picks the concrete protocol for an engine.
func (p Protocol) resolve(e Engine) (Protocol, CachedDecoder, error) {
	cd, ok := e.(CachedDecoder)
	switch p {
	case ProtocolFull:
		return ProtocolFull, nil, nil
	case ProtocolCached:
		if !ok {
			return "", nil, fmt.Errorf("transcribe: engine %T does not support the cached decode protocol", e)
		}
		return ProtocolCached, cd, nil
	case ProtocolAuto, "":
		if ok {
			return ProtocolCached, cd, nil
		}
		return ProtocolFull, nil, nil
	default:
		return "", nil, fmt.Errorf("transcribe: unknown decode protocol %q", p)
	}
}
