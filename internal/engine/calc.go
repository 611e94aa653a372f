package engine

import (
	"github.com/shopspring/decimal"

	"gtrader/internal/exchange"
)

func CalcTPPrice(entryPrice, tpPercent float64, isLong bool) float64 {
	factor := tpPercent / 100.0
	if isLong {
		return entryPrice * (1 + factor)
	}
	return entryPrice * (1 - factor)
}

func CalcSLPrice(entryPrice, slPercent float64, isLong bool) float64 {
	factor := slPercent / 100.0
	if isLong {
		return entryPrice * (1 - factor)
	}
	return entryPrice * (1 + factor)
}

// RoundSize floors to the quantity step, then truncates to the allowed
// decimals. The result never exceeds size.
func RoundSize(size float64, params exchange.AssetParameters) float64 {
	d := decimal.NewFromFloat(size)
	if params.QtyStep > 0 {
		step := decimal.NewFromFloat(params.QtyStep)
		d = d.Div(step).Floor().Mul(step)
	}
	out, _ := d.Truncate(params.SizeDecimals).Float64()
	return out
}

// RoundPrice moves to the nearest tick, then rounds to the allowed decimals.
func RoundPrice(price float64, params exchange.AssetParameters) float64 {
	d := decimal.NewFromFloat(price)
	if params.TickSize > 0 {
		tick := decimal.NewFromFloat(params.TickSize)
		d = d.Div(tick).Round(0).Mul(tick)
	}
	out, _ := d.Round(params.PriceDecimals).Float64()
	return out
}
