package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffStaysWithinBounds(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, backoffBase)
		assert.LessOrEqual(t, d, backoffMax)
	}
}

func TestBackoffEventuallyCaps(t *testing.T) {
	b := NewBackoff()
	var last time.Duration
	for i := 0; i < 200; i++ {
		last = b.Next()
	}
	assert.LessOrEqual(t, last, backoffMax)
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 10; i++ {
		b.Next()
	}
	b.Reset()
	assert.Equal(t, backoffBase, b.sleep)
}
