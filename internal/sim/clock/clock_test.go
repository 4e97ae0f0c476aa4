package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockAdvance(t *testing.T) {
	c := New(5)
	assert.Equal(t, 5.0, c.Now())

	c.Advance(2.5)
	assert.Equal(t, 7.5, c.Now())

	c.Advance(0)
	assert.Equal(t, 7.5, c.Now())
}

func TestClockZeroValue(t *testing.T) {
	var c Clock
	assert.Zero(t, c.Now())
}
