package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(a.stdout, "Config already exists: %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Fprintf(a.stdout, "Wrote %s\nSet engine.command before running transcribe.\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config after defaults and validation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "vocab:     %s\n", cfg.Model.VocabPath)
			fmt.Fprintf(a.stdout, "engine:    %q (protocol %s)\n", cfg.Engine.Command, cfg.Engine.Protocol)
			fmt.Fprintf(a.stdout, "decoder:   max_tokens=%d threshold=%d policy=%s prompt=%v\n",
				cfg.Decoder.MaxTokens, cfg.Decoder.SpecialTokenThreshold, cfg.Decoder.TextPolicy, cfg.Decoder.PromptTokens)
			fmt.Fprintf(a.stdout, "audio:     %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
			fmt.Fprintf(a.stdout, "nats:      %s %s (queue %s)\n", cfg.NATS.URL, cfg.NATS.Subject, cfg.NATS.Queue)
			fmt.Fprintf(a.stdout, "log level: %s\n", cfg.LogLevel)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(a.stdout, "invalid:   %v\n", err)
			}
			return nil
		},
	})
	return cmd
}
