package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for _, tf := range GetSupportedTimeframes() {
		d, err := ParseTimeframe(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, d, GetTimeframeDuration(tf))
		assert.True(t, IsValidTimeframe(tf))

		_, err = WallexResolution(tf)
		assert.NoError(t, err, tf)
	}

	d, _ := ParseTimeframe("4h")
	assert.Equal(t, 4*time.Hour, d)

	_, err := ParseTimeframe("2m")
	assert.Error(t, err)
	assert.False(t, IsValidTimeframe("2m"))
	assert.Zero(t, GetTimeframeDuration("2m"))
}

func TestWallexResolution(t *testing.T) {
	r, err := WallexResolution("1h")
	require.NoError(t, err)
	assert.Equal(t, "60", r)

	r, _ = WallexResolution("1d")
	assert.Equal(t, "1D", r)

	_, err = WallexResolution("1w")
	assert.Error(t, err)
}
