package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

var klineIntervals = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "D",
}

func (c *Client) GetAssetParameters(ctx context.Context, symbol string) (exchange.AssetParameters, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[instrumentInfo]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false, &resp); err != nil {
		return exchange.AssetParameters{}, err
	}

	if len(resp.Result.List) == 0 {
		return exchange.AssetParameters{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}

	info := resp.Result.List[0]

	tick, err := strconv.ParseFloat(info.PriceFilter.TickSize, 64)
	if err != nil || tick <= 0 {
		return exchange.AssetParameters{}, fmt.Errorf("Некорректное значение tickSize=%q: %v", info.PriceFilter.TickSize, err)
	}

	step, err := strconv.ParseFloat(info.LotSizeFilter.QtyStep, 64)
	if err != nil || step <= 0 {
		return exchange.AssetParameters{}, fmt.Errorf("Некорректное значение qtyStep=%q: %v", info.LotSizeFilter.QtyStep, err)
	}

	minQty, err := parseFloatOrZero(info.LotSizeFilter.MinOrderQty)
	if err != nil {
		return exchange.AssetParameters{}, fmt.Errorf("Некорректное значение minOrderQty=%q: %w", info.LotSizeFilter.MinOrderQty, err)
	}

	minNotional, err := parseFloatOrZero(info.LotSizeFilter.MinNotionalValue)
	if err != nil {
		return exchange.AssetParameters{}, fmt.Errorf("Некорректное значение minNotionalValue=%q: %w", info.LotSizeFilter.MinNotionalValue, err)
	}

	return exchange.AssetParameters{
		Symbol:        info.Symbol,
		TickSize:      tick,
		QtyStep:       step,
		MinOrderQty:   minQty,
		MinNotional:   minNotional,
		SizeDecimals:  stepDecimals(info.LotSizeFilter.QtyStep),
		PriceDecimals: stepDecimals(info.PriceFilter.TickSize),
	}, nil
}

// GetKlines returns close prices oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PricePoint, error) {
	code, ok := klineIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("Неподдерживаемый интервал: %s", interval)
	}

	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", code)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp bybitResponse[struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, nil, false, &resp); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 5 {
			continue
		}
		closePrice, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		points = append(points, models.PricePoint{
			Time:  parseMillis(row[0]),
			Price: closePrice,
		})
	}
	return points, nil
}

func (c *Client) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}

	price, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("Некорректная цена lastPrice=%q для %s", resp.Result.List[0].LastPrice, symbol)
	}
	return price, nil
}
