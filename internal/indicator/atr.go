package indicator

import "math"

// CalculateTrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
// The first point has no previous close and uses high-low.
func CalculateTrueRange(high, low, close []float64) ([]float64, error) {
	if len(high) != len(low) || len(low) != len(close) {
		return nil, ErrLengthMismatch
	}
	tr := make([]float64, len(close))
	for i := range close {
		r := high[i] - low[i]
		if i > 0 {
			r = math.Max(r, math.Abs(high[i]-close[i-1]))
			r = math.Max(r, math.Abs(low[i]-close[i-1]))
		}
		tr[i] = r
	}
	return tr, nil
}

// CalculateATR returns the rolling mean of the true range over period points.
func CalculateATR(high, low, close []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	tr, err := CalculateTrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	return CalculateSMA(tr, period)
}
