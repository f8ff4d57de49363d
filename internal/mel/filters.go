package mel

import (
	"math"
	"sync"
)

var (
	hannWindow = sync.OnceValue(buildHannWindow)
	filterBank = sync.OnceValue(buildFilterBank)
)

// HannWindow returns the periodic NFFT-point Hann window. The slice is shared
// and must not be modified.
func HannWindow() []float64 {
	return hannWindow()
}

// FilterBank returns the [NMels][NFreqs] triangular mel filterbank. It is
// built on first use and shared read-only afterwards.
func FilterBank() [][]float64 {
	return filterBank()
}

func buildHannWindow() []float64 {
	w := make([]float64, NFFT)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/NFFT))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

func buildFilterBank() [][]float64 {
	lo := hzToMel(0)
	hi := hzToMel(SampleRate / 2)

	bins := make([]int, NMels+2)
	for i := range bins {
		m := lo + (hi-lo)*float64(i)/float64(NMels+1)
		bins[i] = int(math.Floor((NFFT + 1) * melToHz(m) / SampleRate))
	}

	fb := make([][]float64, NMels)
	for m := range fb {
		row := make([]float64, NFreqs)
		left, center, right := bins[m], bins[m+1], bins[m+2]

		if center > left {
			for k := left; k < center && k < NFreqs; k++ {
				row[k] = float64(k-left) / float64(center-left)
			}
		}
		if right > center {
			for k := center; k < right && k < NFreqs; k++ {
				row[k] = float64(right-k) / float64(right-center)
			}
		}
		fb[m] = row
	}
	return fb
}
