package tfutils

import (
	"fmt"
	"time"
)

var durations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// wallex candle resolutions keyed by interval
var wallexResolutions = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "1D",
}

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d, ok := durations[timeframe]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe, or zero
func GetTimeframeDuration(timeframe string) time.Duration {
	return durations[timeframe]
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// WallexResolution maps an interval to the resolution string of the wallex candles endpoint.
func WallexResolution(timeframe string) (string, error) {
	r, ok := wallexResolutions[timeframe]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return r, nil
}
