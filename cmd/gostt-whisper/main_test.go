package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/config"
	"github.com/chaz8081/gostt-whisper/internal/mel"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

func runCLI(t *testing.T, stdin []byte, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, bytes.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func toneWAV(t *testing.T, seconds float64, rate int) []byte {
	t.Helper()
	n := int(seconds * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	wav, err := audio.EncodeWAV(audio.Float32ToPCM16(samples), rate)
	if err != nil {
		t.Fatal(err)
	}
	return wav
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", fmt.Errorf("x: %w", audio.ErrMalformedContainer), exitMalformed},
		{"invalid audio", fmt.Errorf("x: %w", mel.ErrInvalidAudio), exitBadAudio},
		{"inference", &transcribe.InferenceError{Op: "decoder", Step: 1, Err: errors.New("boom")}, exitInference},
		{"cancelled", context.Canceled, exitFailure},
		{"other", errors.New("config validation: nope"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, nil, "version")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(out, "gostt-whisper dev") {
		t.Errorf("output = %q", out)
	}
}

func TestMelCommand(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(wavPath, toneWAV(t, 0.5, 16000), 0644); err != nil {
		t.Fatal(err)
	}
	rawPath := filepath.Join(t.TempDir(), "features.f32")

	code, out, stderr := runCLI(t, nil, "mel", wavPath, "--raw", rawPath)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(out, "shape:   [1 80 3000]") {
		t.Errorf("output missing shape:\n%s", out)
	}
	if !strings.Contains(out, "samples: 8000") {
		t.Errorf("output missing sample count:\n%s", out)
	}

	info, err := os.Stat(rawPath)
	if err != nil {
		t.Fatalf("raw output: %v", err)
	}
	if want := int64(mel.NMels * mel.NFrames * 4); info.Size() != want {
		t.Errorf("raw size = %d, want %d", info.Size(), want)
	}
}

func TestMelCommandFromStdin(t *testing.T) {
	code, out, stderr := runCLI(t, toneWAV(t, 0.25, 8000), "mel", "-")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	// 0.25s at 8 kHz resamples to roughly 4000 samples at 16 kHz.
	if !strings.Contains(out, "shape:   [1 80 3000]") {
		t.Errorf("output:\n%s", out)
	}
}

func TestMelCommandMalformed(t *testing.T) {
	code, _, stderr := runCLI(t, []byte("RIFF but not really a wave file at all"), "mel", "-")
	if code != exitMalformed {
		t.Errorf("exit code = %d, want %d (stderr %s)", code, exitMalformed, stderr)
	}
}

func TestTranscribeRequiresMaxTokens(t *testing.T) {
	cfgPath := writeConfig(t, "engine:\n  command: some-engine\n")
	code, out, stderr := runCLI(t, nil, "--config", cfgPath, "transcribe", "missing.wav")
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if out != "" {
		t.Errorf("stdout = %q, want nothing on failure", out)
	}
	if !strings.Contains(stderr, "max_tokens") {
		t.Errorf("stderr = %q, want max_tokens complaint", stderr)
	}
}

func TestTranscribeMalformedInputFailsBeforeEngine(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(wavPath, []byte("not a wav"), 0644); err != nil {
		t.Fatal(err)
	}
	// The engine command does not exist; reaching it would exit with 1.
	cfgPath := writeConfig(t, "engine:\n  command: /nonexistent/engine\n")
	code, out, _ := runCLI(t, nil, "--config", cfgPath, "transcribe", "--max-tokens", "8", wavPath)
	if code != exitMalformed {
		t.Errorf("exit code = %d, want %d", code, exitMalformed)
	}
	if out != "" {
		t.Errorf("stdout = %q, want nothing on failure", out)
	}
}

func TestTranscribeHelpDescribesInputLayouts(t *testing.T) {
	code, out, _ := runCLI(t, nil, "transcribe", "--help")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"Only stdin (\"-\") enforces the canonical layout", "Float WAV files are\nrejected"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeFlagsApply(t *testing.T) {
	cfg := config.Default()
	f := decodeFlags{maxTokens: 32, protocol: "cached", engine: "engine --fast"}
	f.apply(cfg)
	if cfg.Decoder.MaxTokens != 32 || cfg.Engine.Protocol != "cached" || cfg.Engine.Command != "engine --fast" {
		t.Errorf("apply() = %+v %+v", cfg.Decoder, cfg.Engine)
	}

	cfg = config.Default()
	cfg.Decoder.MaxTokens = 100
	(&decodeFlags{}).apply(cfg)
	if cfg.Decoder.MaxTokens != 100 || cfg.Engine.Protocol != "auto" {
		t.Errorf("empty flags should not override config: %+v", cfg.Decoder)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Decoder.MaxTokens = 50
	cfg.Decoder.PromptTokens = []int64{1, 2}
	cfg.Engine.Protocol = "full"
	cfg.Decoder.TextPolicy = "plain"

	opts, err := pipelineOptions(cfg, nil)
	if err != nil {
		t.Fatalf("pipelineOptions: %v", err)
	}
	if opts.Decode.MaxTokens != 50 || opts.Decode.Protocol != transcribe.ProtocolFull {
		t.Errorf("decode = %+v", opts.Decode)
	}
	if opts.TextPolicy != transcribe.PolicyPlain {
		t.Errorf("policy = %q", opts.TextPolicy)
	}

	cfg.Engine.Protocol = "bogus"
	if _, err := pipelineOptions(cfg, nil); err == nil {
		t.Error("pipelineOptions should reject an unknown protocol")
	}
}

func TestConfigInit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	code, out, _ := runCLI(t, nil, "config", "init")
	if code != exitOK || !strings.HasPrefix(out, "Wrote ") {
		t.Fatalf("first init: code %d, out %q", code, out)
	}
	code, out, _ = runCLI(t, nil, "config", "init")
	if code != exitOK || !strings.HasPrefix(out, "Config already exists") {
		t.Errorf("second init: code %d, out %q", code, out)
	}
}
