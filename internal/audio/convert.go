package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat32 converts little-endian signed 16-bit samples to floats in
// [-1, 1]. Negative samples are scaled by 1/32768 and non-negative samples by
// 1/32767, so both full-scale extremes map exactly to -1 and 1.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if s < 0 {
			samples[i] = float32(s) / 32768.0
		} else {
			samples[i] = float32(s) / 32767.0
		}
	}
	return samples
}

// Float32ToPCM16 converts float samples to little-endian PCM16 using the
// inverse of PCM16ToFloat32. Values outside [-1, 1] are clipped.
func Float32ToPCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, f := range samples {
		var s int16
		switch {
		case f >= 1:
			s = 32767
		case f <= -1:
			s = -32768
		case f < 0:
			s = int16(math.Round(float64(f) * 32768.0))
		default:
			s = int16(math.Round(float64(f) * 32767.0))
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
