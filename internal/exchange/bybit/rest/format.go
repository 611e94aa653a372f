package rest

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// formatQty never rounds up: the exchange rejects sizes above what was sized.
func formatQty(value float64, decimals int32) string {
	return decimal.NewFromFloat(value).Truncate(decimals).StringFixed(decimals)
}

func formatPrice(value float64, decimals int32) string {
	return decimal.NewFromFloat(value).Round(decimals).StringFixed(decimals)
}

func stepDecimals(step string) int32 {
	d, err := decimal.NewFromString(step)
	if err != nil || !d.IsPositive() {
		return 0
	}
	text := d.String()
	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		return int32(len(strings.TrimRight(text[dot+1:], "0")))
	}
	return 0
}

func parseFloatOrZero(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
