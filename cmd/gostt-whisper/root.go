package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/config"
	"github.com/chaz8081/gostt-whisper/internal/engine"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitMalformed = 2
	exitBadAudio  = 3
	exitInference = 4
)

// app carries global flags and I/O for every subcommand.
type app struct {
	configPath string
	logLevel   string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitCode(err)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch transcribe.ErrorKind(err) {
	case "":
		return exitOK
	case transcribe.KindMalformedContainer:
		return exitMalformed
	case transcribe.KindInvalidAudio:
		return exitBadAudio
	case transcribe.KindInference:
		return exitInference
	default:
		return exitFailure
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gostt-whisper",
		Short:         "Whisper-style speech to text",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setupLogging(a.logLevel)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (default: ~/.config/gostt-whisper/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(
		a.transcribeCmd(),
		a.recordCmd(),
		a.melCmd(),
		a.serveCmd(),
		a.modelsCmd(),
		a.configCmd(),
		a.versionCmd(),
	)
	return root
}

// setupLogging installs a text handler on stderr. It runs before the config
// is read, and again once log_level is known.
func (a *app) setupLogging(level string) {
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(level)}))
	slog.SetDefault(a.logger)
}

// loadConfig loads the config from --config, or falls back to the default
// config path, or uses built-in defaults.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := a.readConfig()
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.setupLogging(cfg.LogLevel)
	return cfg, nil
}

func (a *app) readConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Debug("no config file found, using defaults")
	return config.Default(), nil
}

// pipelineOptions converts the decoder section of cfg.
func pipelineOptions(cfg *config.Config, logger *slog.Logger) (transcribe.PipelineOptions, error) {
	protocol, err := transcribe.ParseProtocol(cfg.Engine.Protocol)
	if err != nil {
		return transcribe.PipelineOptions{}, err
	}
	policy, err := transcribe.ParseTextPolicy(cfg.Decoder.TextPolicy)
	if err != nil {
		return transcribe.PipelineOptions{}, err
	}
	return transcribe.PipelineOptions{
		Decode: transcribe.DecodeOptions{
			MaxTokens:    cfg.Decoder.MaxTokens,
			Protocol:     protocol,
			PromptTokens: cfg.Decoder.PromptTokens,
		},
		SpecialTokenThreshold: cfg.Decoder.SpecialTokenThreshold,
		TextPolicy:            policy,
		Logger:                logger,
	}, nil
}

// openPipeline loads the vocabulary, starts the engine process and binds
// them into a pipeline. Close the pipeline to stop the engine.
func (a *app) openPipeline(ctx context.Context, cfg *config.Config) (*transcribe.Pipeline, error) {
	opts, err := pipelineOptions(cfg, a.logger)
	if err != nil {
		return nil, err
	}

	vocab, err := transcribe.LoadVocabulary(cfg.Model.VocabPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w\n\nRun 'gostt-whisper models download' to fetch it", err)
		}
		return nil, err
	}
	a.logger.Debug("vocabulary loaded", "path", cfg.Model.VocabPath, "pieces", vocab.Len())

	eng, err := engine.Start(ctx, engine.Options{
		Command: cfg.Engine.Command,
		Env:     cfg.Engine.Env,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}

	p, err := transcribe.NewPipeline(eng, vocab, opts)
	if err != nil {
		if c, ok := eng.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return p, nil
}
