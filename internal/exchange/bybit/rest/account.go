package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

func (c *Client) GetEquity(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", c.accountType)

	var resp bybitResponse[struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin   string `json:"coin"`
				Equity string `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("Пустой ответ wallet-balance для %s", c.accountType)
	}

	account := resp.Result.List[0]
	total, err := parseFloatOrZero(account.TotalEquity)
	if err != nil {
		return 0, fmt.Errorf("Некорректное значение totalEquity=%q: %w", account.TotalEquity, err)
	}
	if total > 0 {
		return total, nil
	}

	// Non-unified accounts leave totalEquity empty; sum coin equity instead.
	for _, coin := range account.Coin {
		equity, _ := parseFloatOrZero(coin.Equity)
		total += equity
	}
	return total, nil
}

// GetPosition aggregates one-way mode entries for the symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (exchange.Position, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			Size      string `json:"size"`
			AvgPrice  string `json:"avgPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/position/list", params, nil, true, &resp); err != nil {
		return exchange.Position{}, err
	}

	pos := exchange.Position{Symbol: symbol}
	for _, item := range resp.Result.List {
		size, _ := parseFloatOrZero(item.Size)
		if size <= 0 {
			continue
		}
		pos.Side = models.OrderSide(item.Side)
		pos.Size += size
		pos.AvgPrice, _ = parseFloatOrZero(item.AvgPrice)
		pos.MarkPrice, _ = parseFloatOrZero(item.MarkPrice)
	}
	return pos, nil
}

func (c *Client) GetClosedPnL(ctx context.Context, symbol string, since time.Time) ([]exchange.ClosedPnL, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	params.Set("limit", "50")

	var resp bybitResponse[struct {
		List []struct {
			Symbol        string `json:"symbol"`
			OrderID       string `json:"orderId"`
			Side          string `json:"side"`
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnl     string `json:"closedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/position/closed-pnl", params, nil, true, &resp); err != nil {
		return nil, err
	}

	records := make([]exchange.ClosedPnL, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		qty, _ := parseFloatOrZero(item.Qty)
		entry, _ := parseFloatOrZero(item.AvgEntryPrice)
		exit, _ := parseFloatOrZero(item.AvgExitPrice)
		pnl, err := parseFloatOrZero(item.ClosedPnl)
		if err != nil {
			c.log.WithField("closed_pnl", item.ClosedPnl).Warn("Пропуск записи closed-pnl с некорректным значением")
			continue
		}
		records = append(records, exchange.ClosedPnL{
			Symbol:     item.Symbol,
			OrderID:    item.OrderID,
			Side:       models.OrderSide(item.Side),
			Qty:        qty,
			EntryPrice: entry,
			ExitPrice:  exit,
			PnL:        pnl,
			ClosedAt:   parseMillis(item.UpdatedTime),
		})
	}
	return records, nil
}
