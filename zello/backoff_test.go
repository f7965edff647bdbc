package zello

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWindowTriggerActivates(t *testing.T) {
	b := newBackoffWindow(3*time.Second, 8*time.Second)
	now := time.Now()
	b.trigger(now)
	assert.True(t, b.active(now))
	assert.False(t, b.active(now.Add(4*time.Second)))
}

func TestBackoffWindowDoublesWhileReTriggered(t *testing.T) {
	b := newBackoffWindow(3*time.Second, 8*time.Second)
	now := time.Now()
	b.trigger(now)
	assert.Equal(t, 3*time.Second, b.current)

	b.trigger(now.Add(1 * time.Second))
	assert.Equal(t, 6*time.Second, b.current)
}

func TestBackoffWindowCapsAtMax(t *testing.T) {
	b := newBackoffWindow(3*time.Second, 8*time.Second)
	now := time.Now()
	b.trigger(now)
	b.trigger(now.Add(1 * time.Second))
	b.trigger(now.Add(2 * time.Second))
	assert.Equal(t, 8*time.Second, b.current)
}

func TestBackoffWindowResetsAfterElapsing(t *testing.T) {
	b := newBackoffWindow(3*time.Second, 8*time.Second)
	now := time.Now()
	b.trigger(now)
	later := now.Add(10 * time.Second)
	b.trigger(later)
	assert.Equal(t, 3*time.Second, b.current)
}

func TestBackoffWindowRemaining(t *testing.T) {
	b := newBackoffWindow(3*time.Second, 8*time.Second)
	now := time.Now()
	b.trigger(now)
	assert.Greater(t, b.remaining(now), time.Duration(0))
	assert.Equal(t, time.Duration(0), b.remaining(now.Add(5*time.Second)))
}
