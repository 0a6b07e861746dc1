// Package risk tracks account exposure and loss state that the protective
// responders consult before anything trades.
package risk

import (
	"fmt"
	"sync"
	"time"
)

type Config struct {
	MaxDailyLossUSDC        float64       `yaml:"max_daily_loss_usdc" json:"max_daily_loss_usdc"`
	MaxDailyLossPct         float64       `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"` // of AccountCapitalUSDC, used when MaxDailyLossUSDC is 0
	MaxPositionPerMarket    float64       `yaml:"max_position_per_market" json:"max_position_per_market"`
	StopLossPerMarket       float64       `yaml:"stop_loss_per_market" json:"stop_loss_per_market"` // max loss per market before unwind
	MaxDrawdownPct          float64       `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`         // of AccountCapitalUSDC
	AccountCapitalUSDC      float64       `yaml:"account_capital_usdc" json:"account_capital_usdc"`
	MaxConsecutiveLosses    int           `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	ConsecutiveLossCooldown time.Duration `yaml:"consecutive_loss_cooldown" json:"consecutive_loss_cooldown"`
}

func DefaultConfig() Config {
	return Config{
		MaxDailyLossUSDC:        250,
		MaxPositionPerMarket:    2500,
		StopLossPerMarket:       100,
		MaxDrawdownPct:          0.15,
		AccountCapitalUSDC:      10000,
		MaxConsecutiveLosses:    4,
		ConsecutiveLossCooldown: 15 * time.Minute,
	}
}

// State is a point-in-time copy of the manager.
type State struct {
	EmergencyStop     bool               `json:"emergency_stop"`
	EmergencyReason   string             `json:"emergency_reason,omitempty"`
	DailyPnL          float64            `json:"daily_pnl"`
	DailyLossLimit    float64            `json:"daily_loss_limit"`
	ConsecutiveLosses int                `json:"consecutive_losses"`
	CooldownUntil     time.Time          `json:"cooldown_until,omitempty"`
	Positions         map[string]float64 `json:"positions"`
}

type Manager struct {
	mu    sync.RWMutex
	cfg   Config
	clock func() time.Time

	dailyPnL          float64
	positions         map[string]float64 // assetID → USDC exposure
	emergencyStop     bool
	emergencyReason   string
	consecutiveLosses int
	cooldownUntil     time.Time
}

func New(cfg Config, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cfg:       cfg,
		clock:     clock,
		positions: make(map[string]float64),
	}
}

// Allow returns why a new exposure of amountUSDC on assetID is not
// permitted, or nil.
func (m *Manager) Allow(assetID string, amountUSDC float64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyStop {
		return fmt.Errorf("emergency stop active: %s", m.emergencyReason)
	}
	if now := m.clock(); now.Before(m.cooldownUntil) {
		return fmt.Errorf("loss streak cooldown: %d losses, %.0fs remaining",
			m.consecutiveLosses, m.cooldownUntil.Sub(now).Seconds())
	}
	if limit := m.dailyLossLimit(); limit > 0 && m.dailyPnL <= -limit {
		return fmt.Errorf("daily loss limit reached: %.2f/%.2f", m.dailyPnL, -limit)
	}
	if m.cfg.MaxPositionPerMarket > 0 {
		pos := m.positions[assetID]
		if pos+amountUSDC > m.cfg.MaxPositionPerMarket {
			return fmt.Errorf("position limit for %s: %.2f+%.2f > %.2f", assetID, pos, amountUSDC, m.cfg.MaxPositionPerMarket)
		}
	}
	return nil
}

// DailyLossLimitUSDC is the absolute loss that halts trading for the day.
func (m *Manager) DailyLossLimitUSDC() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyLossLimit()
}

func (m *Manager) dailyLossLimit() float64 {
	if m.cfg.MaxDailyLossUSDC > 0 {
		return m.cfg.MaxDailyLossUSDC
	}
	if m.cfg.MaxDailyLossPct > 0 && m.cfg.AccountCapitalUSDC > 0 {
		return m.cfg.MaxDailyLossPct * m.cfg.AccountCapitalUSDC
	}
	return 0
}

// RecordTradeResult books a closed trade's pnl and updates the loss streak.
// Reaching MaxConsecutiveLosses starts the cooldown; a win resets the streak.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL += pnl

	now := m.clock()
	if !m.cooldownUntil.IsZero() && !now.Before(m.cooldownUntil) {
		m.consecutiveLosses = 0
		m.cooldownUntil = time.Time{}
	}
	if pnl >= 0 {
		m.consecutiveLosses = 0
		return
	}
	m.consecutiveLosses++
	if m.cfg.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses && m.cfg.ConsecutiveLossCooldown > 0 {
		m.cooldownUntil = now.Add(m.cfg.ConsecutiveLossCooldown)
	}
}

func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}

func (m *Manager) InCooldown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock().Before(m.cooldownUntil)
}

func (m *Manager) AddPosition(assetID string, amountUSDC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[assetID] += amountUSDC
}

func (m *Manager) RemovePosition(assetID string, amountUSDC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[assetID] -= amountUSDC
	if m.positions[assetID] <= 0 {
		delete(m.positions, assetID)
	}
}

func (m *Manager) Exposure(assetID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[assetID]
}

// SetEmergencyStop latches or clears the halt flag.
func (m *Manager) SetEmergencyStop(stop bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = stop
	if stop {
		m.emergencyReason = reason
	} else {
		m.emergencyReason = ""
	}
}

func (m *Manager) EmergencyStop() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStop
}

func (m *Manager) DailyPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = 0
}

// StopLossHit reports whether a market's pnl breaches the per-market stop.
func (m *Manager) StopLossHit(marketPnL float64) bool {
	if m.cfg.StopLossPerMarket <= 0 {
		return false
	}
	return marketPnL <= -m.cfg.StopLossPerMarket
}

// DrawdownBreached reports whether total pnl exceeds the allowed drawdown
// of account capital.
func (m *Manager) DrawdownBreached(realizedPnL, unrealizedPnL float64) bool {
	if m.cfg.MaxDrawdownPct <= 0 || m.cfg.AccountCapitalUSDC <= 0 {
		return false
	}
	drawdownPct := -(realizedPnL + unrealizedPnL) / m.cfg.AccountCapitalUSDC
	return drawdownPct >= m.cfg.MaxDrawdownPct
}

func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos := make(map[string]float64, len(m.positions))
	for k, v := range m.positions {
		pos[k] = v
	}
	return State{
		EmergencyStop:     m.emergencyStop,
		EmergencyReason:   m.emergencyReason,
		DailyPnL:          m.dailyPnL,
		DailyLossLimit:    m.dailyLossLimit(),
		ConsecutiveLosses: m.consecutiveLosses,
		CooldownUntil:     m.cooldownUntil,
		Positions:         pos,
	}
}
