package advisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtrader/internal/models"
)

// ErrMalformedResponse covers any reply that is not a valid decision object.
var ErrMalformedResponse = errors.New("malformed AI response")

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type Decision struct {
	Action     Action            `json:"action"`
	Coin       string            `json:"coin"`
	Conviction models.Conviction `json:"conviction"`
	Reasoning  string            `json:"reasoning"`
}

func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Conviction: models.ConvictionLow, Reasoning: reason}
}

func (d Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

func (d Decision) IsLong() bool {
	return d.Action == ActionBuy
}

// AssetContext is what the model sees about one candidate.
type AssetContext struct {
	Coin       string            `json:"coin"`
	Price      float64           `json:"price"`
	RSI        *float64          `json:"rsi"`
	Direction  string            `json:"direction"`
	Momentum   float64           `json:"momentum"`
	Volatility float64           `json:"volatility"`
	Quality    float64           `json:"quality"`
	Conviction models.Conviction `json:"conviction"`
	Reasoning  string            `json:"reasoning"`
	HasOpen    bool              `json:"has_open_trade"`
}

type OpenPosition struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`
	Protected  bool    `json:"protected"`
}

type MarketContext struct {
	Time              time.Time      `json:"time"`
	Interval          string         `json:"interval"`
	Candidates        []AssetContext `json:"candidates"`
	OpenTrades        []OpenPosition `json:"open_trades"`
	TradesToday       int            `json:"trades_today"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
}

func (m MarketContext) Coins() []string {
	coins := make([]string, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		coins = append(coins, c.Coin)
	}
	return coins
}

type rawDecision struct {
	Action     *string `json:"action"`
	Coin       string  `json:"coin"`
	Conviction string  `json:"conviction"`
	Reasoning  string  `json:"reasoning"`
}

// ParseDecision validates a model reply. Code fences and prose around the
// JSON object are tolerated; anything else is ErrMalformedResponse. buy and
// sell must name one of the allowed coins and carry a conviction.
func ParseDecision(raw string, allowedCoins []string) (Decision, error) {
	body, err := extractObject(raw)
	if err != nil {
		return Decision{}, err
	}

	var rd rawDecision
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&rd); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if rd.Action == nil {
		return Decision{}, fmt.Errorf("%w: missing action", ErrMalformedResponse)
	}

	d := Decision{
		Action:    Action(strings.ToLower(strings.TrimSpace(*rd.Action))),
		Coin:      strings.ToUpper(strings.TrimSpace(rd.Coin)),
		Reasoning: strings.TrimSpace(rd.Reasoning),
	}

	switch d.Action {
	case ActionHold:
		d.Conviction = models.ConvictionLow
		if c, err := models.ParseConviction(rd.Conviction); err == nil {
			d.Conviction = c
		}
		return d, nil
	case ActionBuy, ActionSell:
	default:
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, *rd.Action)
	}

	if !contains(allowedCoins, d.Coin) {
		return Decision{}, fmt.Errorf("%w: coin %q is not a candidate", ErrMalformedResponse, rd.Coin)
	}
	c, err := models.ParseConviction(rd.Conviction)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	d.Conviction = c
	return d, nil
}

func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	return s[start : end+1], nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
