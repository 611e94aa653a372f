package trading

import (
	"sort"
	"sync"
	"time"

	"gtrader/internal/models"
)

const (
	maxClosedHistory = 500
	maxDecisionLog   = 100
)

// DecisionRecord is one DECIDE result together with what the cycle did with it.
type DecisionRecord struct {
	Time       time.Time         `json:"time"`
	Action     string            `json:"action"`
	Coin       string            `json:"coin,omitempty"`
	Conviction models.Conviction `json:"conviction,omitempty"`
	Effective  models.Conviction `json:"effective_conviction,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
}

type Summary struct {
	OpenTrades     int     `json:"open_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Cancelled      int     `json:"cancelled"`
	FailedAttempts int     `json:"failed_attempts"`
	WinRate        float64 `json:"win_rate"`
	RealizedPnL    float64 `json:"realized_pnl"`
	Exposure       float64 `json:"exposure"`
}

// Registry holds trades for the life of the process. At most one open trade
// per coin. The loop is the only writer; the lock serves concurrent readers.
type Registry struct {
	mu        sync.RWMutex
	open      map[string]models.Trade
	closed    []models.Trade
	decisions []DecisionRecord
	// Consecutive RESOLVE passes that saw a flat position without PnL.
	flatSeen map[string]int

	wins, losses, cancelled int
	failedAttempts          int
	realized                float64
}

func NewRegistry() *Registry {
	return &Registry{open: map[string]models.Trade{}, flatSeen: map[string]int{}}
}

func (r *Registry) Open(t models.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[t.Coin] = t
}

func (r *Registry) HasOpen(coin string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.open[coin]
	return ok
}

func (r *Registry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

// OpenTrades returns a copy ordered by opening time.
func (r *Registry) OpenTrades() []models.Trade {
	r.mu.RLock()
	out := make([]models.Trade, 0, len(r.open))
	for _, t := range r.open {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].Coin < out[j].Coin
	})
	return out
}

func (r *Registry) Exposure() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, t := range r.open {
		total += t.Notional()
	}
	return total
}

// MarkFlatWithoutPnL counts another RESOLVE pass in which the open trade for
// coin had no position and no closed-PnL record, and returns the total.
func (r *Registry) MarkFlatWithoutPnL(coin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[coin]; !ok {
		return 0
	}
	r.flatSeen[coin]++
	return r.flatSeen[coin]
}

// Close moves the open trade for coin into history with a final status.
func (r *Registry) Close(coin string, status models.TradeStatus, pnl float64, at time.Time) (models.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.open[coin]
	if !ok {
		return models.Trade{}, false
	}
	delete(r.open, coin)
	delete(r.flatSeen, coin)

	closedAt := at
	t.Status = status
	t.ClosedAt = &closedAt
	t.RealizedPnL = pnl

	switch status {
	case models.TradeStatusClosedWin:
		r.wins++
	case models.TradeStatusClosedLoss:
		r.losses++
	default:
		r.cancelled++
	}
	r.realized += pnl

	r.closed = append(r.closed, t)
	if len(r.closed) > maxClosedHistory {
		r.closed = append([]models.Trade(nil), r.closed[len(r.closed)-maxClosedHistory:]...)
	}
	return t, true
}

func (r *Registry) Closed() []models.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Trade(nil), r.closed...)
}

func (r *Registry) RecordFailedAttempt() {
	r.mu.Lock()
	r.failedAttempts++
	r.mu.Unlock()
}

func (r *Registry) RecordDecision(d DecisionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	if len(r.decisions) > maxDecisionLog {
		r.decisions = append([]DecisionRecord(nil), r.decisions[len(r.decisions)-maxDecisionLog:]...)
	}
}

// Decisions returns the most recent decisions, newest last.
func (r *Registry) Decisions() []DecisionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DecisionRecord(nil), r.decisions...)
}

func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{
		OpenTrades:     len(r.open),
		ClosedTrades:   r.wins + r.losses + r.cancelled,
		Wins:           r.wins,
		Losses:         r.losses,
		Cancelled:      r.cancelled,
		FailedAttempts: r.failedAttempts,
		RealizedPnL:    r.realized,
	}
	if decided := r.wins + r.losses; decided > 0 {
		s.WinRate = float64(r.wins) / float64(decided) * 100
	}
	for _, t := range r.open {
		s.Exposure += t.Notional()
	}
	return s
}
