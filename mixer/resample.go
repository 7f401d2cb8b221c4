package mixer

import "gonum.org/v1/gonum/dsp/fourier"

// Resampler performs band-limited sample-rate conversion via FFT: it
// transforms a block to the frequency domain, truncates or zero-pads the
// spectrum to the target length, and inverse-transforms. Truncating the
// spectrum on downsampling is itself a low-pass filter, which is what keeps
// the conversion band-limited without a separate filter stage.
type Resampler struct {
	fromRate, toRate int
}

// NewResampler builds a resampler between two sample rates. If the rates
// are equal, Process is a cheap passthrough.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Process resamples one block of mono float32 samples. Output length is
// proportional to len(in)*toRate/fromRate.
func (r *Resampler) Process(in []float32) []float32 {
	if r.fromRate == r.toRate || len(in) == 0 {
		return in
	}

	n := len(in)
	m := n * r.toRate / r.fromRate
	if m < 1 {
		m = 1
	}

	src := make([]float64, n)
	for i, s := range in {
		src[i] = float64(s)
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, src)

	outCoeffLen := m/2 + 1
	outCoeff := make([]complex128, outCoeffLen)
	copyLen := min(len(coeff), outCoeffLen)
	copy(outCoeff[:copyLen], coeff[:copyLen])

	ifft := fourier.NewFFT(m)
	seq := ifft.Sequence(nil, outCoeff)

	// Sequence normalizes by 1/m, but the coefficients came from a forward
	// transform over n samples (unnormalized, so scaled by ~n); correct the
	// amplitude for the length change between the two transforms.
	scale := float64(m) / float64(n)
	out := make([]float32, m)
	for i, v := range seq {
		out[i] = float32(v * scale)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DownmixToMono averages interleaved multi-channel samples down to mono.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
