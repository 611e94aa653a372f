package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gtrader/internal/models"
)

type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

type Config struct {
	RSIPeriod      int
	Oversold       float64
	Overbought     float64
	HighDistance   float64
	MediumDistance float64
	MomentumWindow int
	// Percent move over the momentum window that maps to tanh(1).
	MomentumScale    float64
	VolatilityWindow int
	// Coefficient of variation (percent) treated as maximal volatility.
	VolatilityCeiling float64
	MomentumWeight    float64
	StabilityWeight   float64
	ExtremityWeight   float64
}

func DefaultConfig() Config {
	return Config{
		RSIPeriod:         14,
		Oversold:          30,
		Overbought:        70,
		HighDistance:      10,
		MediumDistance:    5,
		MomentumWindow:    10,
		MomentumScale:     3,
		VolatilityWindow:  20,
		VolatilityCeiling: 5,
		MomentumWeight:    0.35,
		StabilityWeight:   0.30,
		ExtremityWeight:   0.35,
	}
}

// Signal is recomputed on every Analyze call.
type Signal struct {
	Price           float64           `json:"price"`
	RSI             float64           `json:"rsi"`
	RSIValid        bool              `json:"rsi_valid"`
	Direction       Direction         `json:"direction"`
	MomentumScore   float64           `json:"momentum_score"`
	VolatilityScore float64           `json:"volatility_score"`
	QualityScore    float64           `json:"quality_score"`
	Conviction      models.Conviction `json:"conviction"`
	LowConfidence   bool              `json:"low_confidence"`
	Reasoning       string            `json:"reasoning"`
}

// Actionable reports whether the signal points somewhere with usable evidence.
func (s Signal) Actionable() bool {
	return !s.LowConfidence && s.Direction != DirectionNeutral
}

type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.RSIPeriod < 2 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.Oversold <= 0 || cfg.Overbought <= cfg.Oversold {
		cfg.Oversold, cfg.Overbought = def.Oversold, def.Overbought
	}
	if cfg.MomentumWindow < 2 {
		cfg.MomentumWindow = def.MomentumWindow
	}
	if cfg.MomentumScale <= 0 {
		cfg.MomentumScale = def.MomentumScale
	}
	if cfg.VolatilityWindow < 2 {
		cfg.VolatilityWindow = def.VolatilityWindow
	}
	if cfg.VolatilityCeiling <= 0 {
		cfg.VolatilityCeiling = def.VolatilityCeiling
	}
	if cfg.MomentumWeight+cfg.StabilityWeight+cfg.ExtremityWeight <= 0 {
		cfg.MomentumWeight, cfg.StabilityWeight, cfg.ExtremityWeight = def.MomentumWeight, def.StabilityWeight, def.ExtremityWeight
	}
	if cfg.HighDistance <= 0 || cfg.MediumDistance <= 0 {
		cfg.HighDistance, cfg.MediumDistance = def.HighDistance, def.MediumDistance
	}
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) Analyze(history []models.PricePoint) Signal {
	prices := normalize(history)
	sig := Signal{
		Direction:  DirectionNeutral,
		Conviction: models.ConvictionLow,
	}
	if len(prices) == 0 {
		sig.LowConfidence = true
		sig.Reasoning = "no price history"
		return sig
	}
	sig.Price = prices[len(prices)-1]

	sig.MomentumScore = a.momentum(prices)
	sig.VolatilityScore = a.volatility(prices)

	rsi, err := RSI(prices, a.cfg.RSIPeriod)
	if err != nil {
		sig.LowConfidence = true
		sig.QualityScore = a.quality(sig.MomentumScore, sig.VolatilityScore, 0)
		sig.Reasoning = fmt.Sprintf("insufficient history for RSI(%d): %d prices; momentum %.2f, volatility %.2f; no trade",
			a.cfg.RSIPeriod, len(prices), sig.MomentumScore, sig.VolatilityScore)
		return sig
	}
	sig.RSI = rsi
	sig.RSIValid = true

	var distance float64
	switch {
	case rsi < a.cfg.Oversold:
		sig.Direction = DirectionBullish
		distance = a.cfg.Oversold - rsi
	case rsi > a.cfg.Overbought:
		sig.Direction = DirectionBearish
		distance = rsi - a.cfg.Overbought
	}
	if sig.Direction != DirectionNeutral {
		sig.Conviction = a.convictionFor(distance)
	}

	extremity := clamp01(math.Abs(rsi-50) / 50)
	sig.QualityScore = a.quality(sig.MomentumScore, sig.VolatilityScore, extremity)
	sig.Reasoning = a.reasoning(sig, distance)
	return sig
}

func (a *Analyzer) convictionFor(distance float64) models.Conviction {
	switch {
	case distance >= a.cfg.HighDistance:
		return models.ConvictionHigh
	case distance >= a.cfg.MediumDistance:
		return models.ConvictionMedium
	default:
		return models.ConvictionLow
	}
}

// momentum maps the regression slope over the window to [-1, 1].
func (a *Analyzer) momentum(prices []float64) float64 {
	window := tail(prices, a.cfg.MomentumWindow)
	if len(window) < 2 {
		return 0
	}
	move := slopePct(window) * float64(len(window)-1)
	return math.Tanh(move / a.cfg.MomentumScale)
}

// volatility maps the coefficient of variation over the window to [0, 1].
func (a *Analyzer) volatility(prices []float64) float64 {
	window := tail(prices, a.cfg.VolatilityWindow)
	if len(window) < 2 {
		return 0
	}
	mean, std := meanStd(window)
	if mean <= 0 {
		return 0
	}
	return clamp01(std / mean * 100 / a.cfg.VolatilityCeiling)
}

func (a *Analyzer) quality(momentum, volatility, extremity float64) float64 {
	total := a.cfg.MomentumWeight + a.cfg.StabilityWeight + a.cfg.ExtremityWeight
	score := a.cfg.MomentumWeight*math.Abs(momentum) +
		a.cfg.StabilityWeight*(1-volatility) +
		a.cfg.ExtremityWeight*extremity
	return math.Round(score/total*100*100) / 100
}

func (a *Analyzer) reasoning(sig Signal, distance float64) string {
	var b strings.Builder
	switch sig.Direction {
	case DirectionBullish:
		fmt.Fprintf(&b, "RSI %.1f is %.1f below oversold %.0f: bullish, %s conviction", sig.RSI, distance, a.cfg.Oversold, sig.Conviction)
	case DirectionBearish:
		fmt.Fprintf(&b, "RSI %.1f is %.1f above overbought %.0f: bearish, %s conviction", sig.RSI, distance, a.cfg.Overbought, sig.Conviction)
	default:
		fmt.Fprintf(&b, "RSI %.1f inside %.0f-%.0f band: neutral, no trade", sig.RSI, a.cfg.Oversold, a.cfg.Overbought)
	}
	fmt.Fprintf(&b, "; momentum %+.2f, volatility %.2f, quality %.1f", sig.MomentumScore, sig.VolatilityScore, sig.QualityScore)
	return b.String()
}

func normalize(history []models.PricePoint) []float64 {
	points := make([]models.PricePoint, 0, len(history))
	for _, p := range history {
		if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			continue
		}
		points = append(points, p)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	return prices
}

type Ranked struct {
	Coin   string `json:"coin"`
	Signal Signal `json:"signal"`
}

// Rank orders candidates by descending quality score.
func Rank(signals map[string]Signal) []Ranked {
	out := make([]Ranked, 0, len(signals))
	for coin, sig := range signals {
		out = append(out, Ranked{Coin: coin, Signal: sig})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signal.QualityScore != out[j].Signal.QualityScore {
			return out[i].Signal.QualityScore > out[j].Signal.QualityScore
		}
		return out[i].Coin < out[j].Coin
	})
	return out
}
