package models

import (
	"fmt"
	"strings"
	"time"
)

type Conviction string

const (
	ConvictionHigh   Conviction = "HIGH"
	ConvictionMedium Conviction = "MEDIUM"
	ConvictionLow    Conviction = "LOW"
)

func ParseConviction(s string) (Conviction, error) {
	switch Conviction(strings.ToUpper(strings.TrimSpace(s))) {
	case ConvictionHigh:
		return ConvictionHigh, nil
	case ConvictionMedium:
		return ConvictionMedium, nil
	case ConvictionLow:
		return ConvictionLow, nil
	default:
		return "", fmt.Errorf("unknown conviction %q", s)
	}
}

// Rank orders convictions LOW < MEDIUM < HIGH. Unknown values rank below LOW.
func (c Conviction) Rank() int {
	switch c {
	case ConvictionHigh:
		return 3
	case ConvictionMedium:
		return 2
	case ConvictionLow:
		return 1
	}
	return 0
}

func MinConviction(a, b Conviction) Conviction {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

type TradeStatus string

const (
	TradeStatusOpen       TradeStatus = "OPEN"
	TradeStatusClosedWin  TradeStatus = "CLOSED_WIN"
	TradeStatusClosedLoss TradeStatus = "CLOSED_LOSS"
	TradeStatusCancelled  TradeStatus = "CANCELLED"
)

type Protection string

const (
	ProtectionFull    Protection = "protected"
	ProtectionPartial Protection = "partial"
	ProtectionNone    Protection = "unprotected"
)

type Trade struct {
	ID              string      `json:"id"`
	Coin            string      `json:"coin"`
	Symbol          string      `json:"symbol"`
	EntryPrice      float64     `json:"entry_price"`
	Size            float64     `json:"size"`
	IsLong          bool        `json:"is_long"`
	TakeProfitPrice *float64    `json:"take_profit_price"`
	StopLossPrice   *float64    `json:"stop_loss_price"`
	TPOrderID       string      `json:"tp_order_id"`
	SLOrderID       string      `json:"sl_order_id"`
	Protection      Protection  `json:"protection"`
	Status          TradeStatus `json:"status"`
	Conviction      Conviction  `json:"conviction"`
	Reasoning       string      `json:"reasoning"`
	OpenedAt        time.Time   `json:"opened_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
	RealizedPnL     float64     `json:"realized_pnl"`
}

func (t Trade) Notional() float64 {
	return t.EntryPrice * t.Size
}

func (t Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}
