package pipeline

// ResampleNearest converts in (sampled at rateIn Hz) to WhisperSampleRate
// Hz mono using nearest-neighbor selection:
// out[i] = in[floor(i * rateIn / WhisperSampleRate)].
// The downstream model tolerates mild aliasing and this keeps the
// callback-adjacent path cheap. Returns a sequence of length
// floor(len(in) * WhisperSampleRate / rateIn).
func ResampleNearest(in []float32, rateIn int) []float32 {
	if rateIn == WhisperSampleRate || len(in) == 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}

	outLen := len(in) * WhisperSampleRate / rateIn
	out := make([]float32, outLen)
	ratio := float64(rateIn) / float64(WhisperSampleRate)
	for i := range out {
		srcIdx := int(float64(i) * ratio)
		if srcIdx >= len(in) {
			srcIdx = len(in) - 1
		}
		out[i] = in[srcIdx]
	}
	return out
}
