package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleLeadingEdge(t *testing.T) {
	th := NewThrottle(200 * time.Millisecond)

	require.True(t, th.Allow(), "first call in a window must fire")
	for i := 0; i < 10; i++ {
		assert.False(t, th.Allow(), "call %d inside the window must be dropped", i)
	}
}

func TestThrottleReopensAfterWindow(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)

	require.True(t, th.Allow())
	require.False(t, th.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, th.Allow(), "throttle must reopen once the window elapses")
}

func TestThrottleDroppedCallsAreNotQueued(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)

	fired := 0
	if th.Allow() {
		fired++
	}
	for i := 0; i < 5; i++ {
		if th.Allow() {
			fired++
		}
	}
	require.Equal(t, 1, fired)

	// After the window only the next fresh call fires; the five dropped
	// calls never replay.
	time.Sleep(60 * time.Millisecond)
	if th.Allow() {
		fired++
	}
	assert.Equal(t, 2, fired)
}

func TestThrottleStopReturnsToIdle(t *testing.T) {
	th := NewThrottle(time.Hour)

	require.True(t, th.Allow())
	require.False(t, th.Allow())

	th.Stop()
	assert.True(t, th.Allow(), "Stop must cancel the cooling window")
}

func TestThrottleConcurrentBurstFiresOnce(t *testing.T) {
	th := NewThrottle(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.Allow() {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fired, "a concurrent burst must fire exactly once")
}

func TestNewThrottleRejectsNonPositiveWindow(t *testing.T) {
	assert.Panics(t, func() { NewThrottle(0) })
	assert.Panics(t, func() { NewThrottle(-time.Second) })
}
