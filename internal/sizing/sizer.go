package sizing

import (
	"fmt"
	"math"

	"gtrader/internal/models"
)

// Policy holds the tunable sizing knobs. Fractions, not percent: 0.03 is 3%.
type Policy struct {
	MaxRiskPerTrade  float64
	MinPositionValue float64
	MaxPositionValue float64
	Multipliers      map[models.Conviction]float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRiskPerTrade:  0.03,
		MinPositionValue: 50,
		MaxPositionValue: 300,
		Multipliers: map[models.Conviction]float64{
			models.ConvictionHigh:   1.0,
			models.ConvictionMedium: 0.66,
			models.ConvictionLow:    0.33,
		},
	}
}

type Decision struct {
	NotionalValue   float64           `json:"notional_value"`
	Conviction      models.Conviction `json:"conviction"`
	AccountValue    float64           `json:"account_value"`
	CurrentExposure float64           `json:"current_exposure"`
	MaxExposure     float64           `json:"max_exposure"`
	Reason          string            `json:"reason,omitempty"`
}

func (d Decision) Rejected() bool {
	return d.NotionalValue <= 0
}

type Sizer struct {
	policy Policy
}

func NewSizer(policy Policy) (*Sizer, error) {
	if policy.MaxRiskPerTrade <= 0 || policy.MaxRiskPerTrade > 1 {
		return nil, fmt.Errorf("sizing: max risk per trade must be in (0, 1], got %v", policy.MaxRiskPerTrade)
	}
	if policy.MinPositionValue <= 0 || policy.MaxPositionValue < policy.MinPositionValue {
		return nil, fmt.Errorf("sizing: invalid position bounds [%v, %v]", policy.MinPositionValue, policy.MaxPositionValue)
	}
	for _, c := range []models.Conviction{models.ConvictionHigh, models.ConvictionMedium, models.ConvictionLow} {
		m, ok := policy.Multipliers[c]
		if !ok || m <= 0 || math.IsNaN(m) {
			return nil, fmt.Errorf("sizing: missing or invalid multiplier for %s", c)
		}
	}
	return &Sizer{policy: policy}, nil
}

func (s *Sizer) Policy() Policy {
	return s.policy
}

// Size applies the risk-per-trade bound, then the exposure budget. The result
// is either zero (reject) or within [MinPositionValue, MaxPositionValue], and
// currentExposure+NotionalValue never exceeds MaxExposure.
func (s *Sizer) Size(accountValue float64, conviction models.Conviction, currentExposure, maxExposurePct float64) Decision {
	d := Decision{
		Conviction:      conviction,
		AccountValue:    accountValue,
		CurrentExposure: currentExposure,
	}

	switch {
	case !finite(accountValue) || accountValue <= 0:
		d.Reason = "account value must be positive"
		return d
	case !finite(currentExposure) || currentExposure < 0:
		d.Reason = "current exposure must be non-negative"
		return d
	case !finite(maxExposurePct) || maxExposurePct <= 0:
		d.Reason = "max exposure pct must be positive"
		return d
	}

	mult, ok := s.policy.Multipliers[conviction]
	if !ok {
		d.Reason = fmt.Sprintf("unknown conviction %q", conviction)
		return d
	}

	d.MaxExposure = accountValue * maxExposurePct

	size := accountValue * s.policy.MaxRiskPerTrade * mult
	size = math.Max(s.policy.MinPositionValue, math.Min(size, s.policy.MaxPositionValue))

	headroom := d.MaxExposure - currentExposure
	if headroom <= 0 {
		d.Reason = "exposure budget exhausted"
		return d
	}
	if size > headroom {
		size = headroom
	}
	if size < s.policy.MinPositionValue {
		d.Reason = fmt.Sprintf("exposure headroom %.2f below minimum position %.2f", headroom, s.policy.MinPositionValue)
		return d
	}

	d.NotionalValue = size
	return d
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
