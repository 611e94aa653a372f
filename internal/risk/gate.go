package risk

import (
	"fmt"
	"sync"
	"time"
)

const (
	ReasonDailyLimit      = "daily trade limit reached"
	ReasonConsecutiveLoss = "consecutive loss limit reached"
)

// Limits are the daily ceilings enforced by the gate.
type Limits struct {
	MaxDailyTrades       int
	MaxConsecutiveLosses int
}

// DailyRiskState is the per-UTC-day counter set. It is only mutated by Gate.
type DailyRiskState struct {
	Date              string    `json:"date"`
	TradeCount        int       `json:"trade_count"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LastResetDate     time.Time `json:"last_reset_date"`
}

// Gate decides whether a new trade may be attempted. It does no I/O. The
// trading loop is the only writer; State may be read from any goroutine.
type Gate struct {
	limits Limits
	now    func() time.Time

	mu    sync.RWMutex
	state DailyRiskState
}

func NewGate(limits Limits, now func() time.Time) (*Gate, error) {
	if limits.MaxDailyTrades < 0 {
		return nil, fmt.Errorf("risk: negative daily trade ceiling %d", limits.MaxDailyTrades)
	}
	if limits.MaxConsecutiveLosses < 0 {
		return nil, fmt.Errorf("risk: negative loss-streak ceiling %d", limits.MaxConsecutiveLosses)
	}
	if now == nil {
		now = time.Now
	}
	day := dayStart(now())
	return &Gate{
		limits: limits,
		now:    now,
		state: DailyRiskState{
			Date:          day.Format(time.DateOnly),
			LastResetDate: day,
		},
	}, nil
}

// ResetIfNewDay zeroes the counters once the UTC date has moved past the last
// reset. It reports whether a reset happened.
func (g *Gate) ResetIfNewDay() bool {
	today := dayStart(g.now())
	g.mu.Lock()
	defer g.mu.Unlock()
	if !today.After(g.state.LastResetDate) {
		return false
	}
	g.state = DailyRiskState{
		Date:          today.Format(time.DateOnly),
		LastResetDate: today,
	}
	return true
}

func (g *Gate) CanTrade() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state.TradeCount >= g.limits.MaxDailyTrades {
		return false, ReasonDailyLimit
	}
	if g.state.ConsecutiveLosses >= g.limits.MaxConsecutiveLosses {
		return false, ReasonConsecutiveLoss
	}
	return true, ""
}

func (g *Gate) RecordTradeOutcome(won bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.TradeCount++
	if won {
		g.state.ConsecutiveLosses = 0
		return
	}
	g.state.ConsecutiveLosses++
}

func (g *Gate) State() DailyRiskState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) Limits() Limits {
	return g.limits
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
