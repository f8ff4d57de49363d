package audio

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// wavFormatPCM is the fmt chunk audio format of integer PCM data.
const wavFormatPCM = 1

// LoadWAVFile reads any integer PCM WAV file (extra chunks, stereo and
// 8/16/24/32-bit depths are accepted), downmixes it to mono and resamples it
// to targetRate. Float and compressed encodings are rejected. Use DecodeWAV
// when the canonical layout must be enforced.
func LoadWAVFile(path string, targetRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %q is not a PCM wav file", ErrMalformedContainer, path)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: %q uses audio format %d, want integer PCM", ErrMalformedContainer, path, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %q has no usable format chunk", ErrMalformedContainer, path)
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrMalformedContainer, depth)
	}

	samples := downmix(buf.Data, buf.Format.NumChannels, depth)
	return Resample(samples, buf.Format.SampleRate, targetRate)
}

// Resample converts mono samples from one sample rate to another. Samples are
// returned unchanged when the rates already match.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", fromRate, toRate, err)
	}

	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(clamp(s))
	}
	return res, nil
}

// downmix averages interleaved channels into a mono stream scaled to [-1, 1].
// 8-bit WAV data is unsigned and is re-centred first.
func downmix(data []int, channels, depth int) []float32 {
	neg := float64(int64(1) << (depth - 1))
	pos := neg - 1

	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			s := data[i*channels+c]
			if depth == 8 {
				s -= 128
			}
			if s < 0 {
				sum += float64(s) / neg
			} else {
				sum += float64(s) / pos
			}
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// WriteWAVFile stores mono PCM16LE samples as a 16-bit WAV file.
func WriteWAVFile(path string, pcm16le []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: write wav: sample rate must be positive, got %d", sampleRate)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	defer file.Close()

	samples := make([]int, len(pcm16le)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm16le[i*2:])))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}
