package models

import "time"

type OrderSide string
type OrderType string
type OrderStatus string
type OrderKind string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"

	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"

	OrderStatusNew                     OrderStatus = "New"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
	OrderStatusRejected                OrderStatus = "Rejected"
	OrderStatusUntriggered             OrderStatus = "Untriggered"

	OrderKindEntry      OrderKind = "entry"
	OrderKindTakeProfit OrderKind = "take_profit"
	OrderKindStopLoss   OrderKind = "stop_loss"
)

// Order is both the request sent to the exchange and the exchange's view of it.
type Order struct {
	ID           string      `json:"id"`
	LinkID       string      `json:"link_id"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	Kind         OrderKind   `json:"kind"`
	Price        float64     `json:"price"`
	TriggerPrice float64     `json:"trigger_price"`
	Qty          float64     `json:"qty"`
	FilledQty    float64     `json:"filled_qty"`
	AvgPrice     float64     `json:"avg_price"`
	Status       OrderStatus `json:"status"`
	ReduceOnly   bool        `json:"reduce_only"`
	TimeInForce  string      `json:"time_in_force"`
	// Precision the REST adapter must format Qty/Price with.
	SizeDecimals  int32     `json:"size_decimals"`
	PriceDecimals int32     `json:"price_decimals"`
	CreateTime    time.Time `json:"create_time"`
	UpdateTime    time.Time `json:"update_time"`
}

func (o Order) IsFinal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusPartiallyFilledCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderResult is what the execution engine reports for one logical order,
// retries included.
type OrderResult struct {
	Kind       OrderKind
	Symbol     string
	OrderID    string
	LinkID     string
	Success    bool
	FilledSize float64
	AvgPrice   float64
	Price      float64
	Size       float64
	Attempts   int
	// Unconfirmed is set when the exchange accepted the order but its final
	// state could not be read.
	Unconfirmed bool
	Err         error
}

type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

func SideFor(isLong bool) OrderSide {
	if isLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

func OppositeSide(side OrderSide) OrderSide {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}
