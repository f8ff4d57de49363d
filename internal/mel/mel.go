// Package mel computes Whisper-style log-mel spectrogram features from 16 kHz
// mono audio.
package mel

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	SampleRate  = 16000
	NFFT        = 400
	HopLength   = 160
	NMels       = 80
	ChunkLength = 30
	NSamples    = ChunkLength * SampleRate // 480000
	NFrames     = NSamples / HopLength     // 3000
	NFreqs      = NFFT/2 + 1               // 201
)

// ErrInvalidAudio is returned when the input contains NaN or Inf samples.
var ErrInvalidAudio = errors.New("invalid audio samples")

// Features holds log-mel features in mel-major order: Data[m*NFrames+t].
type Features struct {
	Data []float32
}

// Shape returns the tensor shape the encoder expects.
func (f *Features) Shape() []int64 {
	return []int64{1, NMels, NFrames}
}

// At returns the feature value for one mel band and frame.
func (f *Features) At(mel, frame int) float32 {
	return f.Data[mel*NFrames+frame]
}

// PadOrTrim returns exactly NSamples samples: shorter input is zero padded on
// the right, longer input keeps its first 30 seconds.
func PadOrTrim(samples []float32) []float32 {
	out := make([]float32, NSamples)
	copy(out, samples)
	return out
}

// Compute converts samples of any length into a [1, NMels, NFrames] feature
// tensor. Silence and empty input yield a valid, finite result.
func Compute(samples []float32) (*Features, error) {
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrInvalidAudio, i, s)
		}
	}

	mag := STFTMagnitude(PadOrTrim(samples))
	fb := FilterBank()

	logSpec := make([]float64, NMels*NFrames)
	maxVal := math.Inf(-1)
	for m := 0; m < NMels; m++ {
		row := fb[m]
		for t := 0; t < NFrames; t++ {
			var sum float64
			for k, w := range row {
				if w != 0 {
					sum += w * mag[k][t]
				}
			}
			v := math.Log10(math.Max(sum, 1e-10))
			logSpec[m*NFrames+t] = v
			if v > maxVal {
				maxVal = v
			}
		}
	}

	floor := maxVal - 8
	data := make([]float32, len(logSpec))
	for i, v := range logSpec {
		if v < floor {
			v = floor
		}
		data[i] = float32((v + 4) / 4)
	}
	return &Features{Data: data}, nil
}

// STFTMagnitude returns the [NFreqs][NFrames] magnitude spectrogram of one
// NSamples window, center padded by NFFT/2 zeros on each side.
func STFTMagnitude(window []float32) [][]float64 {
	window = PadOrTrim(window)

	padded := make([]float64, NSamples+NFFT)
	for i, s := range window {
		padded[NFFT/2+i] = float64(s)
	}

	hann := HannWindow()
	fft := fourier.NewFFT(NFFT)
	frame := make([]float64, NFFT)
	coeffs := make([]complex128, NFreqs)

	mag := make([][]float64, NFreqs)
	for k := range mag {
		mag[k] = make([]float64, NFrames)
	}

	for t := 0; t < NFrames; t++ {
		start := t * HopLength
		for i := 0; i < NFFT; i++ {
			frame[i] = padded[start+i] * hann[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k := 0; k < NFreqs; k++ {
			mag[k][t] = cmplx.Abs(coeffs[k])
		}
	}
	return mag
}
