package transcribe

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/mel"
)

func helloVocab() *Vocabulary {
	return NewVocabulary(map[int64]string{50: "ĠHello", 70: "Ġworld"})
}

func newTestPipeline(t *testing.T, e Engine, opts PipelineOptions) *Pipeline {
	t.Helper()
	if opts.Decode.MaxTokens == 0 {
		opts.Decode.MaxTokens = 16
	}
	p, err := NewPipeline(e, helloVocab(), opts)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func silentWAV(t *testing.T, samples, rate int) []byte {
	t.Helper()
	wav, err := audio.EncodeWAV(make([]byte, samples*2), rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

func TestPipelineTranscribeWAV(t *testing.T) {
	e := newMockEngine(50, 70)
	p := newTestPipeline(t, e, PipelineOptions{SpecialTokenThreshold: testStart})

	res, err := p.TranscribeWAV(context.Background(), silentWAV(t, 1600, 16000))
	if err != nil {
		t.Fatalf("TranscribeWAV: %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("text = %q, want %q", res.Text, "Hello world")
	}
	if !slices.Equal(res.Tokens, []int64{testStart, 50, 70, testEOS}) {
		t.Errorf("tokens = %v", res.Tokens)
	}
	if res.Stop != StopEOS || res.Generated != 3 {
		t.Errorf("stop/generated = %q/%d, want eos/3", res.Stop, res.Generated)
	}

	if len(e.encoded) != 1 {
		t.Fatalf("encoder called %d times, want 1", len(e.encoded))
	}
	if !slices.Equal(e.encoded[0].Shape, []int64{1, mel.NMels, mel.NFrames}) {
		t.Errorf("encoder input shape = %v, want [1 80 3000]", e.encoded[0].Shape)
	}
	if len(e.encoded[0].Data) != mel.NMels*mel.NFrames {
		t.Errorf("encoder input has %d values", len(e.encoded[0].Data))
	}
}

func TestPipelineThresholdDefaultsToEOS(t *testing.T) {
	e := newMockEngine(50, 95, 70)
	e.start = 120 // Whisper places the start token above EOS
	p := newTestPipeline(t, e, PipelineOptions{})

	res, err := p.TranscribePCM(context.Background(), make([]byte, 320))
	if err != nil {
		t.Fatalf("TranscribePCM: %v", err)
	}
	// 95 is below EOS (99) but missing from the vocabulary.
	if res.Text != "Hello[95] world" {
		t.Errorf("text = %q, want %q", res.Text, "Hello[95] world")
	}
}

func TestPipelineResamplesWAV(t *testing.T) {
	e := newMockEngine(50)
	p := newTestPipeline(t, e, PipelineOptions{SpecialTokenThreshold: testStart})

	res, err := p.TranscribeWAV(context.Background(), silentWAV(t, 800, 8000))
	if err != nil {
		t.Fatalf("TranscribeWAV: %v", err)
	}
	if res.Text != "Hello" {
		t.Errorf("text = %q, want Hello", res.Text)
	}
}

func TestPipelineMalformedWAV(t *testing.T) {
	e := newMockEngine()
	p := newTestPipeline(t, e, PipelineOptions{})

	_, err := p.TranscribeWAV(context.Background(), []byte("RIFF"))
	if !errors.Is(err, audio.ErrMalformedContainer) {
		t.Errorf("error = %v, want ErrMalformedContainer", err)
	}
	if len(e.encoded) != 0 {
		t.Error("encoder should not run for a malformed container")
	}
}

func TestPipelineInvalidAudio(t *testing.T) {
	p := newTestPipeline(t, newMockEngine(), PipelineOptions{})
	_, err := p.TranscribeSamples(context.Background(), []float32{0, float32(math.NaN())})
	if !errors.Is(err, mel.ErrInvalidAudio) {
		t.Errorf("error = %v, want ErrInvalidAudio", err)
	}
}

func TestPipelineEncoderFailure(t *testing.T) {
	e := newMockEngine()
	e.encodeErr = errors.New("out of memory")
	p := newTestPipeline(t, e, PipelineOptions{})

	_, err := p.TranscribeSamples(context.Background(), nil)
	var ie *InferenceError
	if !errors.As(err, &ie) || ie.Op != "encoder" {
		t.Fatalf("error = %v, want encoder InferenceError", err)
	}
}

func TestPipelinePartialOnDecoderFailure(t *testing.T) {
	e := newMockEngine(50, 70)
	e.failAt = 1
	p := newTestPipeline(t, e, PipelineOptions{SpecialTokenThreshold: testStart})

	res, err := p.TranscribeSamples(context.Background(), nil)
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *InferenceError", err)
	}
	if res.Text != "Hello" {
		t.Errorf("partial text = %q, want Hello", res.Text)
	}
}

func TestPipelineTokenCapIsNotError(t *testing.T) {
	e := newMockEngine()
	e.neverEOS = true
	p := newTestPipeline(t, e, PipelineOptions{Decode: DecodeOptions{MaxTokens: 3}})

	res, err := p.TranscribeSamples(context.Background(), nil)
	if err != nil {
		t.Fatalf("TranscribeSamples: %v", err)
	}
	if res.Stop != StopTokenCap || res.Generated != 3 {
		t.Errorf("stop/generated = %q/%d, want token_cap/3", res.Stop, res.Generated)
	}
}

func TestPipelineCloseWithoutCloser(t *testing.T) {
	p := newTestPipeline(t, newMockEngine(50, 70), PipelineOptions{SpecialTokenThreshold: testStart})
	res, err := p.TranscribeSamples(context.Background(), make([]float32, 100))
	if err != nil {
		t.Fatalf("TranscribeSamples: %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

type closingEngine struct {
	*mockEngine
	closed bool
}

func (c *closingEngine) Close() error {
	c.closed = true
	return nil
}

func TestPipelineCloseClosesEngine(t *testing.T) {
	e := &closingEngine{mockEngine: newMockEngine()}
	p := newTestPipeline(t, e, PipelineOptions{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !e.closed {
		t.Error("engine was not closed")
	}
}

func TestNewPipelineValidation(t *testing.T) {
	e := newMockEngine()
	v := helloVocab()
	tests := []struct {
		name   string
		engine Engine
		vocab  *Vocabulary
		opts   PipelineOptions
	}{
		{"nil engine", nil, v, PipelineOptions{Decode: DecodeOptions{MaxTokens: 5}}},
		{"nil vocab", e, nil, PipelineOptions{Decode: DecodeOptions{MaxTokens: 5}}},
		{"zero max tokens", e, v, PipelineOptions{}},
		{"negative threshold", e, v, PipelineOptions{Decode: DecodeOptions{MaxTokens: 5}, SpecialTokenThreshold: -1}},
		{"bad policy", e, v, PipelineOptions{Decode: DecodeOptions{MaxTokens: 5}, TextPolicy: "wordpiece"}},
		{"bad protocol", e, v, PipelineOptions{Decode: DecodeOptions{MaxTokens: 5, Protocol: "stream"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPipeline(tt.engine, tt.vocab, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
