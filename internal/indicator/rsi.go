package indicator

// CalculateRSI returns Wilder's smoothed RSI.
//
// The first period deltas seed the average gain and loss; the seed RSI sits at
// index period and entries [0, period) are missing. Each later point updates the
// averages with avg = (avg*(period-1) + current) / period. When the average loss
// is zero the RSI saturates at 100.
func CalculateRSI(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	rsi := missingSeries(len(prices))
	if len(prices) <= period {
		return rsi, nil
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	p := float64(period)
	avgGain := gain / p
	avgLoss := loss / p
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		var up, down float64
		if change > 0 {
			up = change
		} else {
			down = -change
		}
		avgGain = (avgGain*(p-1) + up) / p
		avgLoss = (avgLoss*(p-1) + down) / p
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// CalculateLastRSI returns the most recent RSI value, or ok=false while it is not yet computable.
func CalculateLastRSI(prices []float64, period int) (float64, bool, error) {
	rsi, err := CalculateRSI(prices, period)
	if err != nil {
		return 0, false, err
	}
	if len(rsi) == 0 || IsMissing(rsi[len(rsi)-1]) {
		return 0, false, nil
	}
	return rsi[len(rsi)-1], true, nil
}
