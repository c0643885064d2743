package playback

// Downsample keeps every step-th sample, step = ceil(n/max), so at most max
// points remain. It is for display only; analysis always runs on the full
// window.
func Downsample(data []float64, max int) []float64 {
	if max <= 0 || len(data) <= max {
		return append([]float64{}, data...)
	}
	step := (len(data) + max - 1) / max
	out := make([]float64, 0, (len(data)+step-1)/step)
	for i := 0; i < len(data); i += step {
		out = append(out, data[i])
	}
	return out
}
