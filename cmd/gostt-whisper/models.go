package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/models"
)

func (a *app) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage model assets",
	}

	var url, dest string
	download := &cobra.Command{
		Use:   "download",
		Short: "Download the tokenizer vocabulary",
		Long: `Download the vocabulary JSON from model.vocab_url to model.vocab_path.
An existing file is kept. The engine's model weights are managed by the
engine itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.Model.VocabURL
			}
			if dest == "" {
				dest = cfg.Model.VocabPath
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			fmt.Fprintln(a.stdout, "Downloading vocabulary...")
			client := &http.Client{Timeout: 10 * time.Minute}
			return models.DownloadVocabulary(ctx, client, url, dest, a.stdout)
		},
	}
	download.Flags().StringVar(&url, "url", "", "vocabulary URL (default: model.vocab_url)")
	download.Flags().StringVar(&dest, "dest", "", "destination path (default: model.vocab_path)")

	cmd.AddCommand(download)
	return cmd
}
