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

const (
	triggerRises = 1
	triggerFalls = 2
)

func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (models.Order, error) {
	body := map[string]any{
		"category":    c.category,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"orderType":   order.Type,
		"qty":         formatQty(order.Qty, order.SizeDecimals),
		"orderLinkId": order.LinkID,
	}

	if order.Type == models.OrderTypeLimit {
		body["price"] = formatPrice(order.Price, order.PriceDecimals)
	}
	if order.TimeInForce != "" {
		body["timeInForce"] = order.TimeInForce
	}
	if order.ReduceOnly {
		body["reduceOnly"] = true
	}
	if order.TriggerPrice > 0 {
		// A reduce-only stop sells as price falls and buys back as it rises.
		direction := triggerFalls
		if order.Side == models.OrderSideBuy {
			direction = triggerRises
		}
		body["triggerPrice"] = formatPrice(order.TriggerPrice, order.PriceDecimals)
		body["triggerDirection"] = direction
		body["triggerBy"] = "LastPrice"
	}

	var resp bybitResponse[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]

	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return models.Order{}, err
	}

	order.ID = resp.Result.OrderID
	order.Status = models.OrderStatusNew
	if order.TriggerPrice > 0 {
		order.Status = models.OrderStatusUntriggered
	}
	return order, nil
}

// GetOrder looks the order up by link id, first among open and recent orders,
// then in history.
func (c *Client) GetOrder(ctx context.Context, symbol, linkID string) (models.Order, error) {
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		params := url.Values{}
		params.Set("category", c.category)
		params.Set("symbol", symbol)
		params.Set("orderLinkId", linkID)

		var resp bybitResponse[orderList]
		if err := c.doRequest(ctx, http.MethodGet, path, params, nil, true, &resp); err != nil {
			return models.Order{}, err
		}
		for _, item := range resp.Result.List {
			if item.OrderLinkID == linkID {
				return toOrder(item), nil
			}
		}
	}
	return models.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, linkID)
}

// CancelOrder treats an order that is already gone as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var resp bybitResponse[struct{}]

	err := c.doRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true, &resp)
	if err != nil && exchange.IsOrderNotExist(err) {
		c.log.WithField("order_id", orderID).Debug("Ордер уже отсутствует на бирже")
		return nil
	}
	return err
}

func toOrder(item orderItem) models.Order {
	price, _ := strconv.ParseFloat(item.Price, 64)
	qty, _ := strconv.ParseFloat(item.Qty, 64)
	filled, _ := strconv.ParseFloat(item.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(item.AvgPrice, 64)
	trigger, _ := strconv.ParseFloat(item.TriggerPrice, 64)

	return models.Order{
		ID:           item.OrderID,
		LinkID:       item.OrderLinkID,
		Symbol:       item.Symbol,
		Side:         models.OrderSide(item.Side),
		Type:         models.OrderType(item.OrderType),
		Price:        price,
		TriggerPrice: trigger,
		Qty:          qty,
		FilledQty:    filled,
		AvgPrice:     avg,
		Status:       models.OrderStatus(item.OrderStatus),
		ReduceOnly:   item.ReduceOnly,
		TimeInForce:  item.TimeInForce,
		CreateTime:   parseMillis(item.CreatedTime),
		UpdateTime:   parseMillis(item.UpdatedTime),
	}
}

var _ exchange.Client = (*Client)(nil)
var _ exchange.MarketClient = (*Client)(nil)
