// Package models fetches model assets such as the tokenizer vocabulary.
package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// Download fetches url into destPath, writing progress to out. The body is
// written to a temp file first and renamed into place. An existing non-empty
// file is left alone and Download reports false.
func Download(ctx context.Context, client *http.Client, url, destPath string, out io.Writer) (bool, error) {
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Fprintf(out, "  Already exists: %s (%.1f MB)\n", destPath, float64(info.Size())/(1024*1024))
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return false, fmt.Errorf("models: creating models dir: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("models: building request: %w", err)
	}

	fmt.Fprintf(out, "  URL: %s\n", url)
	fmt.Fprintf(out, "  Destination: %s\n", destPath)

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("models: downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("models: download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return false, fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		out:    out,
		total:  resp.ContentLength,
		label:  filepath.Base(destPath),
	}

	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("models: writing %s: %w", destPath, err)
	}

	fmt.Fprintf(out, "\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("models: moving file into place: %w", err)
	}
	return true, nil
}

// DownloadVocabulary fetches a vocabulary JSON file and checks that it
// parses. A file that does not parse is removed.
func DownloadVocabulary(ctx context.Context, client *http.Client, url, destPath string, out io.Writer) error {
	fetched, err := Download(ctx, client, url, destPath, out)
	if err != nil {
		return err
	}
	vocab, err := transcribe.LoadVocabulary(destPath)
	if err != nil {
		if fetched {
			os.Remove(destPath)
		}
		return fmt.Errorf("models: %s is not a usable vocabulary: %w", destPath, err)
	}
	fmt.Fprintf(out, "  Vocabulary ready: %d pieces\n", vocab.Len())
	return nil
}

// progressWriter wraps an io.Writer and prints download progress to out.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
