package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/mel"
)

func (a *app) melCmd() *cobra.Command {
	var rawOut string
	cmd := &cobra.Command{
		Use:   "mel <file.wav|->",
		Short: "Compute log-mel features and print their statistics",
		Long: `Compute the 80x3000 log-mel feature window for a WAV file and print
shape, range and mean. --raw writes the features as little-endian float32
in mel-major order, the layout the encoder receives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := a.readSamples(args[0])
			if err != nil {
				return err
			}
			f, err := mel.Compute(samples)
			if err != nil {
				return err
			}

			lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
			for _, v := range f.Data {
				x := float64(v)
				lo = math.Min(lo, x)
				hi = math.Max(hi, x)
				sum += x
			}
			fmt.Fprintf(a.stdout, "samples: %d (%.2fs)\n", len(samples), float64(len(samples))/mel.SampleRate)
			fmt.Fprintf(a.stdout, "shape:   %v\n", f.Shape())
			fmt.Fprintf(a.stdout, "min:     %.4f\n", lo)
			fmt.Fprintf(a.stdout, "max:     %.4f\n", hi)
			fmt.Fprintf(a.stdout, "mean:    %.4f\n", sum/float64(len(f.Data)))

			if rawOut != "" {
				if err := writeRaw(rawOut, f.Data); err != nil {
					return err
				}
				a.logger.Info("features written", "path", rawOut, "values", len(f.Data))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawOut, "raw", "", "write the features as raw float32 to this file")
	return cmd
}

func writeRaw(path string, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		f.Close()
		return fmt.Errorf("writing features: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing features: %w", err)
	}
	return f.Close()
}
