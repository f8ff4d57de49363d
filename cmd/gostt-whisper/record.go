package main

import (
	"bufio"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/mel"
)

// minRecording is the shortest capture worth transcribing.
const minRecording = 300 * time.Millisecond

func (a *app) recordCmd() *cobra.Command {
	var (
		flags    decodeFlags
		duration time.Duration
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		Long: `Record from the default capture device and transcribe the result.

Recording stops after --duration, or when Enter is pressed if no duration
is given. --out also saves the capture as a WAV file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			p, err := a.openPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			recorder, err := audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.Channels)
			if err != nil {
				return fmt.Errorf("initializing audio recorder: %w\n\nCheck that a capture device is available and microphone access is granted", err)
			}
			defer recorder.Close()

			if err := recorder.Start(); err != nil {
				return err
			}
			if duration > 0 {
				fmt.Fprintf(a.stderr, "Recording for %s...\n", duration)
				select {
				case <-time.After(duration):
				case <-ctx.Done():
				}
			} else {
				fmt.Fprintln(a.stderr, "Recording... press Enter to stop.")
				pressed := make(chan struct{})
				go func() {
					bufio.NewReader(a.stdin).ReadString('\n')
					close(pressed)
				}()
				select {
				case <-pressed:
				case <-ctx.Done():
				}
			}
			pcm := recorder.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rate := recorder.SampleRate()
			captured := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
			if captured < minRecording {
				a.logger.Info("recording too short, skipping", "duration", captured)
				return nil
			}
			a.logger.Info("captured audio, transcribing", "duration", captured.Round(100*time.Millisecond))

			if outPath != "" {
				if err := audio.WriteWAVFile(outPath, pcm, rate); err != nil {
					return err
				}
				a.logger.Info("recording saved", "path", outPath)
			}

			samples, err := audio.Resample(audio.PCM16ToFloat32(pcm), rate, mel.SampleRate)
			if err != nil {
				return err
			}
			res, err := p.TranscribeSamples(ctx, samples)
			if err != nil {
				return err
			}
			if res.Text == "" {
				a.logger.Info("no speech detected", "elapsed", res.Elapsed.Round(time.Millisecond))
				return nil
			}
			fmt.Fprintln(a.stdout, res.Text)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop recording after this long (default: wait for Enter)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "also save the recording to this WAV file")
	return cmd
}
