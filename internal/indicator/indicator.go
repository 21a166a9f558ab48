// Package indicator computes technical indicators over ordered price series.
//
// Every function returns a fresh slice aligned index-for-index with its input.
// Entries that are not yet computable hold NaN; use IsMissing to test for them.
package indicator

import (
	"errors"
	"math"
)

var (
	ErrInvalidPeriod  = errors.New("indicator: period must be positive")
	ErrLengthMismatch = errors.New("indicator: input series lengths differ")
)

// Missing is the marker for a value that is not yet computable.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing-value marker.
func IsMissing(v float64) bool { return math.IsNaN(v) }

func missingSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// CompleteRows returns, in order, the indices at which every column holds a
// defined value. Columns must share the same length.
func CompleteRows(columns ...[]float64) []int {
	if len(columns) == 0 {
		return nil
	}
	n := len(columns[0])
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ok := true
		for _, col := range columns {
			if i >= len(col) || IsMissing(col[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	return rows
}
