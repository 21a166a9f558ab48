package indicator

import "math"

// BollingerResult holds the upper, middle and lower bands.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// CalculateBollingerBands returns middle = SMA(period) and middle ± numStd
// sample standard deviations over the same window. period must be at least 2.
func CalculateBollingerBands(prices []float64, period int, numStd float64) (BollingerResult, error) {
	if period < 2 {
		return BollingerResult{}, ErrInvalidPeriod
	}
	middle, err := CalculateSMA(prices, period)
	if err != nil {
		return BollingerResult{}, err
	}
	upper := missingSeries(len(prices))
	lower := missingSeries(len(prices))
	for i := period - 1; i < len(prices); i++ {
		mean := middle[i]
		if IsMissing(mean) {
			continue
		}
		var ss float64
		for _, v := range prices[i-period+1 : i+1] {
			ss += (v - mean) * (v - mean)
		}
		std := math.Sqrt(ss / float64(period-1))
		upper[i] = mean + numStd*std
		lower[i] = mean - numStd*std
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}, nil
}
