package indicator

// MACDResult holds the three MACD columns aligned with the input series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD returns EMA(fast) - EMA(slow), its EMA(signal) and the histogram.
func CalculateMACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (MACDResult, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return MACDResult{}, ErrInvalidPeriod
	}
	fast, err := CalculateEMA(prices, fastPeriod)
	if err != nil {
		return MACDResult{}, err
	}
	slow, err := CalculateEMA(prices, slowPeriod)
	if err != nil {
		return MACDResult{}, err
	}

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fast[i] - slow[i]
	}
	signal, err := CalculateEMA(line, signalPeriod)
	if err != nil {
		return MACDResult{}, err
	}
	hist := make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - signal[i]
	}
	return MACDResult{MACD: line, Signal: signal, Histogram: hist}, nil
}
