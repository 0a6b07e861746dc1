package ratelimit

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMinuteBoundary(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MaxPerMinute: 60, MaxPerHour: 1000}, WithClock(clock.Now))

	for i := 0; i < 60; i++ {
		require.True(t, l.Allow().Allowed, "admission %d", i+1)
		clock.Advance(500 * time.Millisecond)
	}
	v := l.Allow()
	assert.False(t, v.Allowed)
	assert.Equal(t, "minute", v.Window)
	assert.True(t, strings.HasPrefix(v.Reason(), "rate limit exceeded"))
	assert.Equal(t, 60, l.Usage().Minute, "rejected attempt is not admitted")

	// First admission was at t0; now is t0+30s. Roll past t0+60s.
	clock.Advance(30 * time.Second)
	assert.True(t, l.Allow().Allowed)
}

func TestHourWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MaxPerMinute: 10, MaxPerHour: 15}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow().Allowed)
	}
	clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		require.True(t, l.Allow().Allowed)
	}
	v := l.Allow()
	assert.False(t, v.Allowed)
	assert.Equal(t, "hour", v.Window)
	assert.Equal(t, 59*time.Minute, v.RetryAfter)

	clock.Advance(59 * time.Minute)
	assert.True(t, l.Allow().Allowed)
	assert.Equal(t, Usage{Minute: 1, Hour: 6}, l.Usage())
}

func TestBurstBucket(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MaxPerMinute: 100, Burst: 3}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow().Allowed)
	}
	v := l.Allow()
	assert.False(t, v.Allowed)
	assert.Equal(t, "second", v.Window)

	clock.Advance(time.Second)
	assert.True(t, l.Allow().Allowed)
}

func TestZeroCapsDisableChecks(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 500; i++ {
		require.True(t, l.Allow().Allowed)
	}
}

func TestConcurrentAdmissionNeverExceedsCap(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MaxPerMinute: 25}, WithClock(clock.Now))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow().Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, allowed)
}

// Property: for any cap N, N admissions inside one window succeed, the next
// fails, and admission resumes once the window has rolled over.
func TestBoundaryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cap is exact and windows roll", prop.ForAll(
		func(n int, stepMs int) bool {
			clock := newFakeClock()
			l := New(Config{MaxPerMinute: n}, WithClock(clock.Now))
			step := time.Duration(stepMs) * time.Millisecond
			for i := 0; i < n; i++ {
				if !l.Allow().Allowed {
					return false
				}
				clock.Advance(step)
			}
			// All n admissions sit inside [t0, t0+n*step) with n*step < 60s.
			if l.Allow().Allowed {
				return false
			}
			clock.Advance(time.Minute)
			return l.Allow().Allowed
		},
		gen.IntRange(1, 120),
		gen.IntRange(0, 400),
	))

	properties.TestingRun(t)
}
