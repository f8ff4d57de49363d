package transcribe

import (
	"context"
	"fmt"
	"log/slog"
)

// StopReason records why a decode finished.
type StopReason string

const (
	StopEOS       StopReason = "eos"
	StopTokenCap  StopReason = "token_cap"
	StopCancelled StopReason = "cancelled"
)

// DecodeOptions configures one greedy decode.
type DecodeOptions struct {
	// MaxTokens caps the number of generated tokens, excluding the start
	// token and PromptTokens. It is required.
	MaxTokens int
	Protocol  Protocol
	// PromptTokens follow the start token before generation begins, e.g.
	// language, task and no-timestamps markers.
	PromptTokens []int64
}

// DecodeResult is the final decoder state.
type DecodeResult struct {
	Tokens    []int64 // start token, prompt, generated tokens (EOS included)
	Generated int
	Stop      StopReason
	Protocol  Protocol
	EOS       int64
}

// Decode runs greedy autoregressive decoding against hidden encoder states.
// Reaching MaxTokens or a cancelled ctx ends decoding without an error; an
// engine failure returns the tokens decoded so far inside an *InferenceError.
func Decode(ctx context.Context, e Engine, hidden Tensor, opts DecodeOptions) (DecodeResult, error) {
	if opts.MaxTokens <= 0 {
		return DecodeResult{}, fmt.Errorf("transcribe: decode: max tokens must be positive, got %d", opts.MaxTokens)
	}
	proto, cached, err := opts.Protocol.resolve(e)
	if err != nil {
		return DecodeResult{}, err
	}

	startID, err := e.StartTokenID(ctx)
	if err != nil {
		return DecodeResult{}, &InferenceError{Op: "start_token", Step: -1, Err: err}
	}
	eosID, err := e.EOSID(ctx)
	if err != nil {
		return DecodeResult{}, &InferenceError{Op: "eos", Step: -1, Err: err}
	}
	vocabSize, err := e.VocabSize(ctx)
	if err != nil {
		return DecodeResult{}, &InferenceError{Op: "vocab_size", Step: -1, Err: err}
	}
	if vocabSize <= 0 {
		return DecodeResult{}, &InferenceError{Op: "vocab_size", Step: -1, Err: fmt.Errorf("engine reported vocab size %d", vocabSize)}
	}

	tokens := make([]int64, 0, 1+len(opts.PromptTokens)+opts.MaxTokens)
	tokens = append(tokens, startID)
	tokens = append(tokens, opts.PromptTokens...)
	res := DecodeResult{Protocol: proto, EOS: eosID}

	step := func() (Tensor, error) {
		if proto == ProtocolCached {
			last := len(tokens) - 1
			return cached.DecodeCached(ctx, tokens[last], hidden, int64(last))
		}
		return e.DecodeStep(ctx, tokens, hidden)
	}

	// The cached protocol consumes one token per call, so every prefix token
	// but the last is fed first to fill the engine's cache.
	if proto == ProtocolCached {
		for pos := 0; pos < len(tokens)-1; pos++ {
			if ctx.Err() != nil {
				res.Stop = StopCancelled
				return withTokens(res, tokens), nil
			}
			if _, err := cached.DecodeCached(ctx, tokens[pos], hidden, int64(pos)); err != nil {
				return withTokens(res, tokens), &InferenceError{Op: "decoder", Step: -1, Tokens: clone(tokens), Err: fmt.Errorf("prefill position %d: %w", pos, err)}
			}
		}
	}

	for i := 0; ; i++ {
		if res.Generated >= opts.MaxTokens {
			res.Stop = StopTokenCap
			break
		}
		if ctx.Err() != nil {
			res.Stop = StopCancelled
			break
		}

		logits, err := step()
		if err != nil {
			return withTokens(res, tokens), &InferenceError{Op: "decoder", Step: i, Tokens: clone(tokens), Err: err}
		}
		row, err := lastRow(logits, vocabSize)
		if err != nil {
			return withTokens(res, tokens), &InferenceError{Op: "decoder", Step: i, Tokens: clone(tokens), Err: err}
		}

		next := int64(argmax(row))
		tokens = append(tokens, next)
		res.Generated++
		slog.Debug("decode step", "step", i, "token", next, "protocol", proto)

		if next == eosID {
			res.Stop = StopEOS
			break
		}
	}

	return withTokens(res, tokens), nil
}

func withTokens(res DecodeResult, tokens []int64) DecodeResult {
	res.Tokens = tokens
	return res
}

// lastRow returns the logits of the final sequence position.
func lastRow(t Tensor, vocabSize int) ([]float32, error) {
	if len(t.Data) < vocabSize {
		return nil, fmt.Errorf("logits have %d values, want at least vocab size %d", len(t.Data), vocabSize)
	}
	return t.Data[len(t.Data)-vocabSize:], nil
}

// argmax returns the index of the largest value. Ties go to the lowest index.
func argmax(row []float32) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

func clone(tokens []int64) []int64 {
	return append([]int64(nil), tokens...)
}
