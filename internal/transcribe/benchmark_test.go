package transcribe_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/engine"
	"github.com/chaz8081/gostt-whisper/internal/mel"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// These benchmarks drive a real engine process. They skip unless
// GOSTT_BENCH_ENGINE (engine command line) and GOSTT_BENCH_VOCAB (vocab.json)
// are set and testdata/references.json exists.

// benchSample holds a test audio sample and its reference transcript.
type benchSample struct {
	Label      string  `json:"label"`
	File       string  `json:"file"`
	Transcript string  `json:"transcript"`
	DurationS  float64 `json:"duration_sec"`
}

// benchReferences is the top-level structure of testdata/references.json.
type benchReferences struct {
	Samples []benchSample `json:"samples"`
}

type benchSampleWithAudio struct {
	benchSample
	audio []float32
}

func loadBenchSamples(b *testing.B) []benchSampleWithAudio {
	b.Helper()

	refPath := filepath.Join("testdata", "references.json")
	data, err := os.ReadFile(refPath)
	if err != nil {
		b.Skipf("references not found at %s: %v", refPath, err)
	}

	var refs benchReferences
	if err := json.Unmarshal(data, &refs); err != nil {
		b.Fatalf("parse references.json: %v", err)
	}

	results := make([]benchSampleWithAudio, 0, len(refs.Samples))
	for _, s := range refs.Samples {
		samples, err := audio.LoadWAVFile(filepath.Join("testdata", s.File), mel.SampleRate)
		if err != nil {
			b.Fatalf("load %s: %v", s.File, err)
		}
		results = append(results, benchSampleWithAudio{benchSample: s, audio: samples})
	}
	return results
}

func openBenchPipeline(b *testing.B) *transcribe.Pipeline {
	b.Helper()
	cmdline := os.Getenv("GOSTT_BENCH_ENGINE")
	vocabPath := os.Getenv("GOSTT_BENCH_VOCAB")
	if cmdline == "" || vocabPath == "" {
		b.Skip("GOSTT_BENCH_ENGINE and GOSTT_BENCH_VOCAB not set")
	}

	vocab, err := transcribe.LoadVocabulary(vocabPath)
	if err != nil {
		b.Fatalf("LoadVocabulary: %v", err)
	}
	eng, err := engine.Start(context.Background(), engine.Options{Command: cmdline})
	if err != nil {
		b.Fatalf("engine.Start: %v", err)
	}
	p, err := transcribe.NewPipeline(eng, vocab, transcribe.PipelineOptions{
		Decode: transcribe.DecodeOptions{MaxTokens: 224},
	})
	if err != nil {
		eng.(io.Closer).Close()
		b.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func BenchmarkPipelineTranscribe(b *testing.B) {
	ctx := context.Background()
	samples := loadBenchSamples(b)
	p := openBenchPipeline(b)
	defer func() { _ = p.Close() }()

	for _, s := range samples {
		b.Run(s.Label, func(b *testing.B) {
			b.ReportMetric(s.DurationS*1000, "audio-ms")

			// Warm up: single run outside the loop
			_, _ = p.TranscribeSamples(ctx, s.audio)

			var lastText string
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				res, err := p.TranscribeSamples(ctx, s.audio)
				if err != nil {
					b.Fatalf("TranscribeSamples: %v", err)
				}
				lastText = res.Text
			}
			b.StopTimer()

			elapsed := b.Elapsed()
			rtf := (elapsed.Seconds() / float64(b.N)) / s.DurationS
			b.ReportMetric(rtf, "rtf")

			b.ReportMetric(transcribe.WordErrorRate(s.Transcript, lastText).Rate, "wer")
			b.ReportMetric(transcribe.CharErrorRate(s.Transcript, lastText).Rate, "cer")
		})
	}
}

// BenchmarkPipelineLatency measures first-call latency after the engine starts.
func BenchmarkPipelineLatency(b *testing.B) {
	samples := loadBenchSamples(b)
	if len(samples) == 0 {
		b.Skip("no samples")
	}
	short := samples[0]
	for _, s := range samples[1:] {
		if s.DurationS < short.DurationS {
			short = s
		}
	}

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		p := openBenchPipeline(b)
		b.StartTimer()

		start := time.Now()
		_, err := p.TranscribeSamples(context.Background(), short.audio)
		latency := time.Since(start)

		b.StopTimer()
		_ = p.Close()
		if err != nil {
			b.Fatalf("TranscribeSamples: %v", err)
		}
		b.ReportMetric(float64(latency.Milliseconds()), "first-call-ms")
	}
}
