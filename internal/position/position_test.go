package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionState(t *testing.T) {
	var nilPos *Position
	assert.Equal(t, Flat, nilPos.State())
	assert.Equal(t, 0.0, nilPos.Amount())

	assert.Equal(t, Long, (&Position{Quantity: 0.5}).State())
	assert.Equal(t, Short, (&Position{Quantity: -2}).State())
	assert.Equal(t, Flat, (&Position{}).State())
	assert.Equal(t, "SHORT", Short.String())
}
