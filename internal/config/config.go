package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SuggestedMaxTokens is written into new config files. It matches Whisper's
// maximum generation length; Default leaves the cap unset on purpose.
const SuggestedMaxTokens = 224

// Config holds all application configuration.
type Config struct {
	Model    ModelConfig   `yaml:"model"`
	Engine   EngineConfig  `yaml:"engine"`
	Decoder  DecoderConfig `yaml:"decoder"`
	Audio    AudioConfig   `yaml:"audio"`
	NATS     NATSConfig    `yaml:"nats"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
}

// ModelConfig locates model assets.
type ModelConfig struct {
	VocabPath string `yaml:"vocab_path"`
	VocabURL  string `yaml:"vocab_url"`
}

// EngineConfig describes the inference engine process.
type EngineConfig struct {
	Command  string   `yaml:"command"`
	Env      []string `yaml:"env,omitempty"`
	Protocol string   `yaml:"protocol"` // "auto", "full" or "cached"
}

// DecoderConfig holds greedy decoding settings.
type DecoderConfig struct {
	MaxTokens             int     `yaml:"max_tokens"`
	SpecialTokenThreshold int64   `yaml:"special_token_threshold"` // 0 = engine EOS id
	PromptTokens          []int64 `yaml:"prompt_tokens,omitempty"`
	TextPolicy            string  `yaml:"text_policy"` // "bpe", "plain" or "sentencepiece"
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
}

// NATSConfig configures the transcription service.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	Queue          string        `yaml:"queue"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-whisper")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the directory downloaded model assets live in.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "gostt-whisper", "models")
}

// Default returns a Config with sensible default values. Decoder.MaxTokens
// stays zero: callers must choose a cap in the file or on the command line.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			VocabPath: filepath.Join(DefaultDataDir(), "vocab.json"),
			VocabURL:  "https://huggingface.co/openai/whisper-base/resolve/main/vocab.json",
		},
		Engine: EngineConfig{
			Protocol: "auto",
		},
		Decoder: DecoderConfig{
			TextPolicy: "bpe",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Subject:        "stt.transcribe",
			Queue:          "gostt",
			RequestTimeout: 60 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Model.VocabPath = expandTilde(cfg.Model.VocabPath)
	return cfg, nil
}

// WriteDefault writes a commented default config to DefaultConfigPath. It
// returns the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	cfg := Default()
	cfg.Decoder.MaxTokens = SuggestedMaxTokens
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# gostt-whisper configuration\n# engine.command must point at an inference engine process.\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Model.VocabPath == "" {
		return fmt.Errorf("model.vocab_path must not be empty")
	}

	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("engine.command must not be empty")
	}

	switch c.Engine.Protocol {
	case "", "auto", "full", "cached":
	default:
		return fmt.Errorf("engine.protocol must be auto, full, or cached, got %q", c.Engine.Protocol)
	}

	if c.Decoder.MaxTokens <= 0 {
		return fmt.Errorf("decoder.max_tokens must be > 0 (Whisper models generate at most %d)", SuggestedMaxTokens)
	}

	if c.Decoder.SpecialTokenThreshold < 0 {
		return fmt.Errorf("decoder.special_token_threshold must be >= 0")
	}

	switch c.Decoder.TextPolicy {
	case "", "bpe", "plain", "sentencepiece":
	default:
		return fmt.Errorf("decoder.text_policy must be bpe, plain, or sentencepiece, got %q", c.Decoder.TextPolicy)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject must not be empty")
	}

	if c.NATS.RequestTimeout < 0 {
		return fmt.Errorf("nats.request_timeout must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
