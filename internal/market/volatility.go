package market

import (
	"math"
	"sync"
	"time"
)

type midSample struct {
	mid float64
	at  time.Time
}

// Tracker keeps a rolling window of mids per asset.
type Tracker struct {
	mu      sync.RWMutex
	window  time.Duration
	clock   func() time.Time
	samples map[string][]midSample
}

// NewTracker creates a Tracker with the given window.
func NewTracker(window time.Duration, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		window:  window,
		clock:   clock,
		samples: make(map[string][]midSample),
	}
}

// Record adds a mid observation.
func (t *Tracker) Record(assetID string, mid float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[assetID] = append(t.samples[assetID], midSample{mid: mid, at: t.clock()})
	t.evict(assetID)
}

// Volatility returns the standard deviation of mids in the window as a
// percentage of their mean. Fewer than two samples yield 0.
func (t *Tracker) Volatility(assetID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.clock().Add(-t.window)
	var sum, sumSq float64
	n := 0
	for _, s := range t.samples[assetID] {
		if s.at.Before(cutoff) {
			continue
		}
		sum += s.mid
		sumSq += s.mid * s.mid
		n++
	}
	if n < 2 || sum == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance) / mean * 100
}

// Change returns the relative move from the oldest to the newest mid in
// the window.
func (t *Tracker) Change(assetID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.clock().Add(-t.window)
	var first, last float64
	for _, s := range t.samples[assetID] {
		if s.at.Before(cutoff) {
			continue
		}
		if first == 0 {
			first = s.mid
		}
		last = s.mid
	}
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

// evict removes expired samples. Caller must hold t.mu.
func (t *Tracker) evict(assetID string) {
	cutoff := t.clock().Add(-t.window)
	samples := t.samples[assetID]
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples[assetID] = samples[i:]
	}
}
