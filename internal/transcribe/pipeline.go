package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/mel"
)

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Decode DecodeOptions
	// SpecialTokenThreshold is the first id excluded from text. Zero uses
	// the engine's EOS id, which opens the special range in Whisper models.
	SpecialTokenThreshold int64
	TextPolicy            TextPolicy
	Logger                *slog.Logger
}

// Result is the outcome of one transcription.
type Result struct {
	Text      string
	Tokens    []int64
	Generated int
	Stop      StopReason
	Elapsed   time.Duration
}

// Pipeline turns audio into text: features, encoder, greedy decode and
// vocabulary reconstruction. A Pipeline is not safe for concurrent use
// unless its engine is; wrap it in a Worker to serialize callers.
type Pipeline struct {
	engine Engine
	vocab  *Vocabulary
	opts   PipelineOptions
	logger *slog.Logger
}

// NewPipeline validates opts and returns a pipeline bound to engine and vocab.
func NewPipeline(engine Engine, vocab *Vocabulary, opts PipelineOptions) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("transcribe: pipeline: engine is required")
	}
	if vocab == nil {
		return nil, errors.New("transcribe: pipeline: vocabulary is required")
	}
	if opts.Decode.MaxTokens <= 0 {
		return nil, fmt.Errorf("transcribe: pipeline: max tokens must be positive, got %d", opts.Decode.MaxTokens)
	}
	if opts.SpecialTokenThreshold < 0 {
		return nil, fmt.Errorf("transcribe: pipeline: special token threshold must not be negative")
	}
	if _, err := ParseTextPolicy(string(opts.TextPolicy)); err != nil {
		return nil, err
	}
	if _, err := ParseProtocol(string(opts.Decode.Protocol)); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{engine: engine, vocab: vocab, opts: opts, logger: logger}, nil
}

// TranscribeWAV decodes a canonical mono PCM16 WAV buffer and transcribes it.
// Audio at a rate other than 16 kHz is resampled first.
func (p *Pipeline) TranscribeWAV(ctx context.Context, wav []byte) (Result, error) {
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return Result{}, err
	}
	samples := audio.PCM16ToFloat32(pcm)
	if rate != mel.SampleRate {
		p.logger.Debug("resampling input", "from", rate, "to", mel.SampleRate)
		samples, err = audio.Resample(samples, rate, mel.SampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("transcribe: %w", err)
		}
	}
	return p.TranscribeSamples(ctx, samples)
}

// TranscribePCM transcribes raw 16 kHz mono PCM16LE bytes.
func (p *Pipeline) TranscribePCM(ctx context.Context, pcm16le []byte) (Result, error) {
	return p.TranscribeSamples(ctx, audio.PCM16ToFloat32(pcm16le))
}

// TranscribeSamples transcribes 16 kHz mono samples in [-1, 1]. On an
// inference failure the partial result is returned with the error.
func (p *Pipeline) TranscribeSamples(ctx context.Context, samples []float32) (Result, error) {
	start := time.Now()

	features, err := mel.Compute(samples)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: features: %w", err)
	}
	p.logger.Debug("features computed", "samples", len(samples), "elapsed", time.Since(start))

	hidden, err := p.engine.Encode(ctx, Tensor{Shape: features.Shape(), Data: features.Data})
	if err != nil {
		return Result{Elapsed: time.Since(start)}, &InferenceError{Op: "encoder", Step: -1, Err: err}
	}
	p.logger.Debug("encoder output", "shape", hidden.Shape)

	dec, err := Decode(ctx, p.engine, hidden, p.opts.Decode)
	res := Result{
		Tokens:    dec.Tokens,
		Generated: dec.Generated,
		Stop:      dec.Stop,
	}
	if len(dec.Tokens) > 0 {
		threshold := p.opts.SpecialTokenThreshold
		if threshold == 0 {
			threshold = dec.EOS
		}
		res.Text = p.vocab.Text(dec.Tokens, threshold, p.opts.TextPolicy)
	}
	res.Elapsed = time.Since(start)

	if err != nil {
		return res, err
	}

	switch res.Stop {
	case StopTokenCap:
		p.logger.Info("token cap reached before end of transcript", "max_tokens", p.opts.Decode.MaxTokens)
	case StopCancelled:
		p.logger.Info("transcription cancelled", "generated", res.Generated)
	}
	p.logger.Debug("transcription done", "tokens", len(res.Tokens), "stop", res.Stop, "elapsed", res.Elapsed)
	return res, nil
}

// Close releases the engine when it holds resources.
func (p *Pipeline) Close() error {
	if c, ok := p.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
