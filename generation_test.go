package canopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneration_NextNeverDecreases(t *testing.T) {
	var g Generation
	for i := 0; i < 5; i++ {
		next := g.Next()
		assert.Greater(t, uint64(next), uint64(g))
		g = next
	}
	assert.Equal(t, Generation(5), g)
}

func TestGeneration_StringIsDecimal(t *testing.T) {
	assert.Equal(t, "42", Generation(42).String())
}
