package ppg

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// DominantBPM estimates the pulse rate from the strongest spectral component
// of window inside [fcLow, fcHigh] Hz. It is a cross-check for the peak
// detector and reports false when the band holds no energy. The bin is
// refined by parabolic interpolation over its neighbours.
func DominantBPM(window []float64, fs, fcLow, fcHigh float64) (float64, bool) {
	n := len(window)
	if n < 4 || fs <= 0 {
		return 0, false
	}
	bins := fft.FFTReal(window)
	res := fs / float64(n)

	mag := make([]float64, n/2)
	best, bestMag := -1, 0.0
	for k := 1; k < n/2; k++ {
		mag[k] = cmplx.Abs(bins[k])
		f := float64(k) * res
		if f < fcLow || f > fcHigh {
			continue
		}
		if mag[k] > bestMag {
			best, bestMag = k, mag[k]
		}
	}
	if best < 0 || bestMag < 1e-9 {
		return 0, false
	}

	bin := float64(best)
	if best > 1 && best+1 < n/2 {
		a, b, c := mag[best-1], mag[best], mag[best+1]
		if d := a - 2*b + c; d != 0 {
			bin += 0.5 * (a - c) / d
		}
	}
	return bin * res * 60, true
}
