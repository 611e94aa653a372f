package analysis

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

var ErrInsufficientHistory = errors.New("analysis: insufficient price history")

// RSI returns the latest Wilder-smoothed relative strength index over period.
// It needs at least period+1 prices. A window without any price change is 50.
func RSI(prices []float64, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("analysis: RSI period must be at least 2, got %d", period)
	}
	if len(prices) <= period {
		return 0, ErrInsufficientHistory
	}
	if unchanged(prices) {
		return 50, nil
	}
	return talib.Rsi(prices, period)[len(prices)-1], nil
}

func unchanged(prices []float64) bool {
	for _, p := range prices[1:] {
		if p != prices[0] {
			return false
		}
	}
	return true
}

// slopePct is the least-squares slope of prices expressed as percent of the
// window mean per bar.
func slopePct(prices []float64) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	mean, _ := meanStd(prices)
	if mean == 0 {
		return 0
	}
	slope := talib.LinearRegSlope(prices, n)[n-1]
	return slope / mean * 100
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	n := len(values)
	switch n {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	mean := talib.Sma(values, n)[n-1]
	std := talib.StdDev(values, n, 1)[n-1]
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
