package voice_activity

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Detector computes the spectral flux of successive audio frames: the
// rectified change in FFT magnitudes since the previous frame. Speech
// onsets produce a sharp rise in flux relative to background noise, which
// makes it a cheap activity measure for UI feedback and recording
// boundaries. It is advisory only and never gates recognition.
type Detector struct {
	size     int
	previous []float64
}

func New(size int) *Detector {
	if size <= 0 {
		size = 1
	}

	return &Detector{size: size}
}

// Flux returns the spectral flux of the frame. Frames shorter than the
// detector size are zero-padded; longer frames are truncated.
func (d *Detector) Flux(samples []int16) float64 {
	input := make([]float64, d.size)
	for i := 0; i < d.size && i < len(samples); i++ {
		input[i] = float64(samples[i]) / 32768.0
	}

	spectrum := fft.FFTReal(input)

	// Only the first half carries information for a real signal.
	bins := len(spectrum) / 2
	if bins == 0 {
		bins = 1
	}

	magnitudes := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}

	var flux float64
	if d.previous != nil {
		for i := 0; i < bins && i < len(d.previous); i++ {
			diff := magnitudes[i] - d.previous[i]
			if diff > 0 {
				flux += diff * diff
			}
		}
		flux = math.Sqrt(flux / float64(bins))
	}

	d.previous = magnitudes

	return flux
}

func (d *Detector) Reset() {
	d.previous = nil
}
