// Package ledger tracks commands awaiting confirmation and commands that are
// currently active. Both sets live behind one mutex so conflict checks and
// the inserts that follow them are atomic.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/rules"
)

var (
	ErrFull     = errors.New("confirmation ledger full")
	ErrExists   = errors.New("command already tracked")
	ErrNotFound = errors.New("command not found")
	ErrConflict = errors.New("conflict family at capacity")
)

// Config bounds the pending set.
type Config struct {
	Timeout    time.Duration
	MaxPending int
}

// DefaultConfig returns a 5 minute timeout and room for 50 confirmations.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Minute, MaxPending: 50}
}

// Pending is a command awaiting an operator.
type Pending struct {
	CommandID string           `json:"command_id"`
	Command   command.Command  `json:"command"`
	Decision  command.Decision `json:"decision"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Active is an approved command that has not completed yet.
type Active struct {
	CommandID   string          `json:"command_id"`
	Command     command.Command `json:"command"`
	ActivatedAt time.Time       `json:"activated_at"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	cfg   Config
	clock func() time.Time

	mu      sync.Mutex
	pending map[string]Pending
	active  map[string]Active
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates an empty ledger.
func New(cfg Config, opts ...Option) *Ledger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultConfig().MaxPending
	}
	l := &Ledger{
		cfg:     cfg,
		clock:   time.Now,
		pending: make(map[string]Pending),
		active:  make(map[string]Active),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the ledger bounds.
func (l *Ledger) Config() Config { return l.cfg }

// Txn exposes ledger operations inside a held lock.
type Txn struct {
	l   *Ledger
	now time.Time
}

// Tx runs fn with the ledger locked.
func (l *Ledger) Tx(fn func(*Txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(&Txn{l: l, now: l.clock()})
}

// Now is the instant the transaction started.
func (t *Txn) Now() time.Time { return t.now }

// CountActive counts active commands in the rule's family. A command stops
// counting once it has been active longer than the rule's cooldown.
func (t *Txn) CountActive(rule rules.ConflictRule) int {
	n := 0
	for _, a := range t.l.active {
		if !rule.Matches(a.Command) {
			continue
		}
		if rule.Cooldown > 0 && t.now.Sub(a.ActivatedAt) >= rule.Cooldown {
			continue
		}
		n++
	}
	return n
}

// Full reports whether the live pending entries fill the set. Entries past
// their expiry wait for the sweeper but no longer take a slot.
func (t *Txn) Full() bool {
	live := 0
	for _, p := range t.l.pending {
		if t.now.Before(p.ExpiresAt) {
			live++
		}
	}
	return live >= t.l.cfg.MaxPending
}

// tracked reports whether id is pending or active.
func (t *Txn) tracked(id string) bool {
	if _, ok := t.l.pending[id]; ok {
		return true
	}
	_, ok := t.l.active[id]
	return ok
}

// AddPending records cmd as awaiting confirmation.
func (t *Txn) AddPending(cmd command.Command, dec command.Decision) (Pending, error) {
	if cmd.ID == "" {
		return Pending{}, fmt.Errorf("add pending: empty command id")
	}
	if t.tracked(cmd.ID) {
		return Pending{}, fmt.Errorf("add pending %s: %w", cmd.ID, ErrExists)
	}
	if t.Full() {
		return Pending{}, ErrFull
	}
	p := Pending{
		CommandID: cmd.ID,
		Command:   cmd,
		Decision:  dec,
		CreatedAt: t.now,
		ExpiresAt: t.now.Add(t.l.cfg.Timeout),
	}
	t.l.pending[cmd.ID] = p
	return p, nil
}

// Activate records cmd as active.
func (t *Txn) Activate(cmd command.Command) (Active, error) {
	if cmd.ID == "" {
		return Active{}, fmt.Errorf("activate: empty command id")
	}
	if t.tracked(cmd.ID) {
		return Active{}, fmt.Errorf("activate %s: %w", cmd.ID, ErrExists)
	}
	a := Active{CommandID: cmd.ID, Command: cmd, ActivatedAt: t.now}
	t.l.active[cmd.ID] = a
	return a, nil
}

// Approve moves a live pending entry to the active set. families returns
// the conflict families of a command; when one of them is at capacity the
// entry stays pending and the error wraps ErrConflict. Unknown or expired
// ids fail with ErrNotFound and change nothing.
func (l *Ledger) Approve(id string, families func(command.Command) []rules.ConflictRule) (Active, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := &Txn{l: l, now: l.clock()}
	p, ok := l.pending[id]
	if !ok || !tx.now.Before(p.ExpiresAt) {
		return Active{}, fmt.Errorf("approve %s: %w", id, ErrNotFound)
	}
	if families != nil {
		for _, fam := range families(p.Command) {
			if n := tx.CountActive(fam); n >= fam.MaxConcurrent {
				return Active{}, fmt.Errorf("approve %s: %w: %s (%d/%d active)", id, ErrConflict, fam.Name, n, fam.MaxConcurrent)
			}
		}
	}
	delete(l.pending, id)
	a := Active{CommandID: id, Command: p.Command, ActivatedAt: tx.now}
	l.active[id] = a
	return a, nil
}

// Reject drops a live pending entry. Unknown or expired ids return false.
func (l *Ledger) Reject(id string) (Pending, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[id]
	if !ok || !l.clock().Before(p.ExpiresAt) {
		return Pending{}, false
	}
	delete(l.pending, id)
	return p, true
}

// Complete removes an active command.
func (l *Ledger) Complete(id string) (Active, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.active[id]
	if !ok {
		return Active{}, false
	}
	delete(l.active, id)
	return a, true
}

// SweepExpired removes and returns pending entries past their expiry.
func (l *Ledger) SweepExpired() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	var expired []Pending
	for id, p := range l.pending {
		if !now.Before(p.ExpiresAt) {
			expired = append(expired, p)
			delete(l.pending, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired
}

// PendingEntries returns pending entries, oldest first.
func (l *Ledger) PendingEntries() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Pending, 0, len(l.pending))
	for _, p := range l.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CommandID < out[j].CommandID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveEntries returns active entries, oldest first.
func (l *Ledger) ActiveEntries() []Active {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Active, 0, len(l.active))
	for _, a := range l.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActivatedAt.Equal(out[j].ActivatedAt) {
			return out[i].CommandID < out[j].CommandID
		}
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out
}
