package audio_capture

import "math"

// Downmix converts interleaved multi-channel samples to mono by averaging
// the channels of each frame. Integer division truncates toward zero,
// which keeps the result deterministic across platforms.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]int16, frames)

	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}

	return out
}

// Resample converts mono samples from one rate to another by linear
// interpolation. Output length is floor(len/ratio); positions past the
// last input sample clamp to it, and interpolated values saturate at the
// 16-bit range.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	out := make([]int16, int(float64(len(samples))/ratio))

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}

		frac := pos - float64(idx)
		v := float64(samples[idx]) + (float64(samples[idx+1])-float64(samples[idx]))*frac

		out[i] = clampSample(v)
	}

	return out
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Level is the root-mean-square loudness of a frame, normalized by the
// 16-bit full scale and clamped to [0,1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	level := math.Sqrt(sum/float64(len(samples))) / 32767.0
	if level > 1 {
		level = 1
	}

	return level
}
