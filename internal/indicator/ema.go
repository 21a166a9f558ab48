package indicator

// CalculateEMA returns the exponential moving average with smoothing factor
// 2/(span+1), seeded with the first value and no warm-up adjustment.
// Missing inputs propagate the previous average; the result is missing until the first defined input.
func CalculateEMA(series []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := missingSeries(len(series))
	alpha := 2.0 / float64(span+1)
	seeded := false
	var ema float64
	for i, v := range series {
		if IsMissing(v) {
			if seeded {
				out[i] = ema
			}
			continue
		}
		if !seeded {
			ema = v
			seeded = true
		} else {
			ema = alpha*v + (1-alpha)*ema
		}
		out[i] = ema
	}
	return out, nil
}
