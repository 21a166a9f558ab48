package indicator

// CalculateSMA returns the simple rolling mean over window points.
// The first window-1 entries are missing, as is any window holding a missing input.
func CalculateSMA(series []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := missingSeries(len(series))
	if len(series) < window {
		return out, nil
	}
	var (
		sum     float64
		missing int
	)
	for i, v := range series {
		if IsMissing(v) {
			missing++
		} else {
			sum += v
		}
		if i >= window {
			if old := series[i-window]; IsMissing(old) {
				missing--
			} else {
				sum -= old
			}
		}
		if i >= window-1 && missing == 0 {
			out[i] = sum / float64(window)
		}
	}
	return out, nil
}
