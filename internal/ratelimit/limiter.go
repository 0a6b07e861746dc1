// Package ratelimit admits commands against sliding per-minute and per-hour
// windows plus an optional per-second burst bucket.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config caps admissions. A zero cap disables that check.
type Config struct {
	MaxPerMinute int
	MaxPerHour   int
	Burst        int
}

// Verdict is the result of one admission attempt.
type Verdict struct {
	Allowed    bool
	Window     string
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Reason describes a rejection.
func (v Verdict) Reason() string {
	if v.Allowed {
		return ""
	}
	return fmt.Sprintf("rate limit exceeded (%d/%d per %s, retry in %s)", v.Count, v.Limit, v.Window, v.RetryAfter.Round(time.Millisecond))
}

// Usage is the current fill of each window.
type Usage struct {
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg   Config
	clock func() time.Time

	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time
	bucket *rate.Limiter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New creates a limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Burst > 0 {
		l.bucket = rate.NewLimiter(rate.Limit(cfg.Burst), cfg.Burst)
	}
	return l
}

// Allow prunes both windows and admits the current instant if neither cap
// nor the burst bucket would be exceeded. Rejected attempts leave no trace.
func (l *Limiter) Allow() Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.minute = prune(l.minute, now, time.Minute)
	l.hour = prune(l.hour, now, time.Hour)

	if l.cfg.MaxPerMinute > 0 && len(l.minute) >= l.cfg.MaxPerMinute {
		return Verdict{
			Window:     "minute",
			Count:      len(l.minute),
			Limit:      l.cfg.MaxPerMinute,
			RetryAfter: l.minute[0].Add(time.Minute).Sub(now),
		}
	}
	if l.cfg.MaxPerHour > 0 && len(l.hour) >= l.cfg.MaxPerHour {
		return Verdict{
			Window:     "hour",
			Count:      len(l.hour),
			Limit:      l.cfg.MaxPerHour,
			RetryAfter: l.hour[0].Add(time.Hour).Sub(now),
		}
	}
	// The bucket is consulted last so a window rejection spends no token.
	if l.bucket != nil && !l.bucket.AllowN(now, 1) {
		return Verdict{
			Window:     "second",
			Count:      l.cfg.Burst,
			Limit:      l.cfg.Burst,
			RetryAfter: time.Second / time.Duration(l.cfg.Burst),
		}
	}

	l.minute = append(l.minute, now)
	l.hour = append(l.hour, now)
	return Verdict{Allowed: true, Window: "minute", Count: len(l.minute), Limit: l.cfg.MaxPerMinute}
}

// Usage reports the pruned window sizes.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	l.minute = prune(l.minute, now, time.Minute)
	l.hour = prune(l.hour, now, time.Hour)
	return Usage{Minute: len(l.minute), Hour: len(l.hour)}
}

// prune drops timestamps at least window old. Timestamps are appended in
// admission order so the expired ones form a prefix.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) >= window {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append(ts[:0], ts[cut:]...)
}
