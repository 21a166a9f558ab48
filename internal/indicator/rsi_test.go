package indicator

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSI(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name     string
		prices   []float64
		period   int
		expected []float64
	}{
		{
			name:   "Basic RSI calculation",
			prices: []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 13, 12, 11, 12},
			period: 5,
			expected: []float64{
				nan, nan, nan, nan, nan,
				40.00, 52.00, 61.60, 69.28, 75.42, 80.34, 64.27, 51.42, 41.13, 52.91,
			},
		},
		{
			name:     "All increasing prices",
			prices:   []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
			period:   3,
			expected: []float64{nan, nan, nan, 100, 100, 100, 100, 100, 100, 100},
		},
		{
			name:     "All decreasing prices",
			prices:   []float64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11},
			period:   3,
			expected: []float64{nan, nan, nan, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:     "Flat prices",
			prices:   []float64{10, 10, 10, 10, 10, 10, 10, 10},
			period:   3,
			expected: []float64{nan, nan, nan, 100, 100, 100, 100, 100},
		},
		{
			name:     "Alternating prices",
			prices:   []float64{10, 11, 10, 11, 10, 11, 10, 11, 10},
			period:   2,
			expected: []float64{nan, nan, 50.00, 75.00, 37.50, 68.75, 34.38, 67.19, 33.59},
		},
		{
			name:     "Insufficient data",
			prices:   []float64{10, 11, 12},
			period:   5,
			expected: []float64{nan, nan, nan},
		},
		{
			name:     "Empty prices",
			prices:   []float64{},
			period:   5,
			expected: []float64{},
		},
		{
			name:     "Extreme price changes",
			prices:   []float64{10, 100, 5, 200, 1, 300, 2, 400},
			period:   3,
			expected: []float64{nan, nan, nan, 75.00, 42.00, 70.88, 40.63, 67.99},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CalculateRSI(tt.prices, tt.period)
			require.NoError(t, err)
			require.Len(t, result, len(tt.expected), "RSI array length mismatch")

			for i := range tt.expected {
				if math.IsNaN(tt.expected[i]) {
					assert.True(t, IsMissing(result[i]), "Expected missing value at index %d", i)
					continue
				}
				assert.InDelta(t, tt.expected[i], result[i], 0.01, "RSI mismatch at index %d", i)
			}
		})
	}
}

func TestCalculateRSI_InvalidPeriod(t *testing.T) {
	_, err := CalculateRSI([]float64{10, 11, 12, 13, 14}, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestCalculateRSI_Bounds(t *testing.T) {
	prices := make([]float64, 300)
	for i := range prices {
		prices[i] = 100 + 20*math.Sin(float64(i)/7) + float64(i%5)
	}
	for _, period := range []int{2, 5, 14, 30} {
		rsi, err := CalculateRSI(prices, period)
		require.NoError(t, err)
		for i, v := range rsi {
			if IsMissing(v) {
				assert.Less(t, i, period+1)
				continue
			}
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
}

func TestCalculateRSI_UpThenDown(t *testing.T) {
	prices := make([]float64, 0, 29)
	for i := 0; i <= 14; i++ {
		prices = append(prices, 100+float64(i))
	}
	for i := 1; i <= 14; i++ {
		prices = append(prices, 114-float64(i))
	}

	rsi, err := CalculateRSI(prices, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi[14])
	for i := 15; i < len(rsi); i++ {
		assert.Less(t, rsi[i], rsi[i-1], "RSI should decline at index %d", i)
	}
	assert.InDelta(t, 35.43, rsi[len(rsi)-1], 0.01)
}

func TestCalculateRSI_DoesNotMutateInput(t *testing.T) {
	prices := []float64{10, 11, 12, 11, 10, 9, 10}
	orig := append([]float64(nil), prices...)
	_, err := CalculateRSI(prices, 3)
	require.NoError(t, err)
	assert.Equal(t, orig, prices)
}

func TestCalculateLastRSI(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		period   int
		expected float64
		ok       bool
	}{
		{"Basic last RSI calculation", []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 13, 12, 11, 12}, 5, 52.91, true},
		{"All decreasing prices", []float64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11}, 3, 0, true},
		{"Exact minimum data length", []float64{10, 11, 12, 13, 14, 15}, 5, 100, true},
		{"Insufficient data", []float64{10, 11, 12}, 5, 0, false},
		{"Empty prices", []float64{}, 5, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok, err := CalculateLastRSI(tt.prices, tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, result, 0.01)
			}
		})
	}
}

func TestRSIConsistency(t *testing.T) {
	// CalculateLastRSI must agree with the tail of CalculateRSI
	prices := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 14, 13, 12, 11, 12}
	for _, period := range []int{5, 9, 13} {
		t.Run("Period "+strconv.Itoa(period), func(t *testing.T) {
			full, err := CalculateRSI(prices, period)
			require.NoError(t, err)
			last, ok, err := CalculateLastRSI(prices, period)
			require.NoError(t, err)
			require.True(t, ok)
			assert.InDelta(t, full[len(full)-1], last, 0.0001)
		})
	}
}

func BenchmarkCalculateRSI(b *testing.B) {
	prices := make([]float64, 1000)
	for i := range prices {
		prices[i] = float64(i % 100)
	}

	b.ResetTimer()
	for b.Loop() {
		_, _ = CalculateRSI(prices, 14)
	}
}
