package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow_RepeatWithinWindow(t *testing.T) {
	d := NewDedupWindow(time.Minute)
	now := time.Now()

	assert.False(t, d.Observe("cmd-1", now))
	assert.True(t, d.Observe("cmd-1", now.Add(time.Second)))
	assert.True(t, d.Observe("cmd-1", now.Add(59*time.Second)))
}

func TestDedupWindow_ExpiredIDIsNewAgain(t *testing.T) {
	d := NewDedupWindow(time.Minute)
	now := time.Now()

	assert.False(t, d.Observe("cmd-1", now))
	assert.False(t, d.Observe("cmd-1", now.Add(61*time.Second)))
	// The fresh sighting starts a new window.
	assert.True(t, d.Observe("cmd-1", now.Add(90*time.Second)))
}

func TestDedupWindow_PurgeBoundsMemory(t *testing.T) {
	d := NewDedupWindow(time.Minute)
	now := time.Now()

	for i := 0; i < 1000; i++ {
		d.Observe(fmt.Sprintf("old-%d", i), now)
	}
	assert.Equal(t, 1000, d.Len())

	// Two windows later every old record is purged on the next write.
	d.Observe("fresh", now.Add(2*time.Minute))
	assert.Equal(t, 1, d.Len())
}

func TestDedupWindow_DistinctIDs(t *testing.T) {
	d := NewDedupWindow(time.Minute)
	now := time.Now()

	assert.False(t, d.Observe("a", now))
	assert.False(t, d.Observe("b", now))
	assert.True(t, d.Observe("a", now))
	assert.True(t, d.Observe("b", now))
}

func TestBackoffDelay_NonDecreasingAndCapped(t *testing.T) {
	g := NewGateway(nil, Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	})

	var prev time.Duration
	for attempt := 1; attempt <= 20; attempt++ {
		d := g.backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 30*time.Second, "attempt %d", attempt)
		prev = d
	}

	assert.Equal(t, 100*time.Millisecond, g.backoffDelay(1))
	assert.Equal(t, 200*time.Millisecond, g.backoffDelay(2))
	assert.Equal(t, 30*time.Second, g.backoffDelay(5))
	assert.Equal(t, 30*time.Second, g.backoffDelay(12))
}
