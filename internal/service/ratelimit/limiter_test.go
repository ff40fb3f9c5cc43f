package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowIsPerKey(t *testing.T) {
	l := New(0.001, 2)
	assert.True(t, l.Allow("EURUSD"))
	assert.True(t, l.Allow("EURUSD"))
	assert.False(t, l.Allow("EURUSD"))
	assert.True(t, l.Allow("GBPUSD"))
	assert.Equal(t, 2, l.Keys())
}

func TestUnlimited(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k"))
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(0.001, 1)
	assert.True(t, l.Allow("k"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "k"))
}
