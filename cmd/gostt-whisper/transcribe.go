package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/config"
	"github.com/chaz8081/gostt-whisper/internal/mel"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// decodeFlags override the decoder and engine sections of the config.
type decodeFlags struct {
	maxTokens int
	protocol  string
	engine    string
}

func (f *decodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens to generate (overrides decoder.max_tokens)")
	cmd.Flags().StringVar(&f.protocol, "protocol", "", "decoder protocol: auto, full or cached")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine command line (overrides engine.command)")
}

func (f *decodeFlags) apply(cfg *config.Config) {
	if f.maxTokens != 0 {
		cfg.Decoder.MaxTokens = f.maxTokens
	}
	if f.protocol != "" {
		cfg.Engine.Protocol = f.protocol
	}
	if f.engine != "" {
		cfg.Engine.Command = f.engine
	}
}

func (a *app) transcribeCmd() *cobra.Command {
	var (
		flags    decodeFlags
		expect   string
		asJSON   bool
		showToks bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav|->",
		Short: "Transcribe a WAV file to text",
		Long: `Transcribe a WAV file to text.

Files in any integer PCM layout go-audio understands (stereo, 8/24/32-bit,
extra chunks) are downmixed and resampled to 16 kHz mono. Float WAV files are
rejected. Only stdin ("-") enforces the canonical layout: a 44-byte header
with mono PCM16 data, anything else exits with code 2.

Exit codes: 0 success, 2 malformed WAV, 3 invalid audio, 4 inference failure,
1 anything else.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}

			// Read the audio before starting the engine so bad input fails fast.
			samples, err := a.readSamples(args[0])
			if err != nil {
				return err
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			p, err := a.openPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.TranscribeSamples(ctx, samples)
			if err != nil {
				var ie *transcribe.InferenceError
				if errors.As(err, &ie) && res.Text != "" {
					a.logger.Warn("partial transcript before failure", "text", res.Text, "tokens", len(res.Tokens))
				}
				return err
			}

			if asJSON {
				return writeJSON(a.stdout, res)
			}
			fmt.Fprintln(a.stdout, res.Text)
			if showToks {
				fmt.Fprintf(a.stdout, "tokens: %v (stop: %s)\n", res.Tokens, res.Stop)
			}
			if expect != "" {
				printScores(a.stdout, expect, res.Text)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&expect, "expect", "", "reference transcript; prints word and character error rates")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&showToks, "tokens", false, "also print the token ids")
	return cmd
}

// readSamples loads path (or stdin for "-") as 16 kHz mono samples.
func (a *app) readSamples(path string) ([]float32, error) {
	if path != "-" {
		return audio.LoadWAVFile(path, mel.SampleRate)
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return audio.Resample(audio.PCM16ToFloat32(pcm), rate, mel.SampleRate)
}

func printScores(w io.Writer, reference, hypothesis string) {
	wer := transcribe.WordErrorRate(reference, hypothesis)
	cer := transcribe.CharErrorRate(reference, hypothesis)
	fmt.Fprintf(w, "WER: %.2f%% (S=%d I=%d D=%d of %d words)\n",
		wer.Rate*100, wer.Substitutions, wer.Insertions, wer.Deletions, wer.RefUnits)
	fmt.Fprintf(w, "CER: %.2f%% (S=%d I=%d D=%d of %d chars)\n",
		cer.Rate*100, cer.Substitutions, cer.Insertions, cer.Deletions, cer.RefUnits)
}

type jsonResult struct {
	Text      string  `json:"text"`
	Tokens    []int64 `json:"tokens"`
	Generated int     `json:"generated"`
	Stop      string  `json:"stop"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

func writeJSON(w io.Writer, res transcribe.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonResult{
		Text:      res.Text,
		Tokens:    res.Tokens,
		Generated: res.Generated,
		Stop:      string(res.Stop),
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

// notifyContext is shared by long-running commands.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
