package exchange

import (
	"context"
	"time"

	"gtrader/internal/models"
)

// AssetParameters is read-only instrument reference data used for rounding.
type AssetParameters struct {
	Symbol        string  `json:"symbol"`
	TickSize      float64 `json:"tick_size"`
	QtyStep       float64 `json:"qty_step"`
	MinOrderQty   float64 `json:"min_order_qty"`
	MinNotional   float64 `json:"min_notional"`
	SizeDecimals  int32   `json:"size_decimals"`
	PriceDecimals int32   `json:"price_decimals"`
}

type Position struct {
	Symbol    string
	Side      models.OrderSide
	Size      float64
	AvgPrice  float64
	MarkPrice float64
}

func (p Position) IsFlat() bool {
	return p.Size <= 0
}

type ClosedPnL struct {
	Symbol     string
	OrderID    string
	Side       models.OrderSide
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	ClosedAt   time.Time
}

// Client is everything the bot needs from the exchange.
type Client interface {
	GetAssetParameters(ctx context.Context, symbol string) (AssetParameters, error)
	PlaceOrder(ctx context.Context, order models.Order) (models.Order, error)
	GetOrder(ctx context.Context, symbol, linkID string) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (Position, error)
	GetClosedPnL(ctx context.Context, symbol string, since time.Time) ([]ClosedPnL, error)
	GetEquity(ctx context.Context) (float64, error)
}

type MarketClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PricePoint, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
}
