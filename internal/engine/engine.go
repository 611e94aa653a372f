package engine

import (
	"context"
	"strings"
	"time"

	"gtrader/internal/exchange"
	"gtrader/internal/logger"
	"gtrader/internal/metrics"
	"gtrader/internal/models"
)

// OrderGateway is the slice of the exchange the engine submits through.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, order models.Order) (models.Order, error)
	GetOrder(ctx context.Context, symbol, linkID string) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

type Config struct {
	QuoteCoin      string
	TakeProfitPct  float64
	StopLossPct    float64
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	FillTimeout    time.Duration
	FillPoll       time.Duration
}

func DefaultConfig() Config {
	return Config{
		QuoteCoin:      "USDT",
		TakeProfitPct:  3,
		StopLossPct:    1.5,
		MaxAttempts:    4,
		BaseBackoff:    1 * time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		FillTimeout:    20 * time.Second,
		FillPoll:       500 * time.Millisecond,
	}
}

type Engine struct {
	client  OrderGateway
	params  *ParamsCache
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics

	sleep     func(ctx context.Context, d time.Duration) error
	newLinkID func(kind models.OrderKind) string
}

func New(client OrderGateway, params *ParamsCache, cfg Config, log *logger.Logger, m *metrics.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.QuoteCoin == "" {
		cfg.QuoteCoin = def.QuoteCoin
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.BaseBackoff)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.FillPoll <= 0 {
		cfg.FillPoll = def.FillPoll
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		client:    client,
		params:    params,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		sleep:     sleepCtx,
		newLinkID: newLinkID,
	}
}

func (e *Engine) Symbol(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + e.cfg.QuoteCoin
}

func (e *Engine) Config() Config {
	return e.cfg
}

// AssetParameters resolves reference data for a coin through the cache,
// retrying transient failures.
func (e *Engine) AssetParameters(ctx context.Context, coin string) (exchange.AssetParameters, error) {
	symbol := e.Symbol(coin)
	var params exchange.AssetParameters
	_, err := e.retry(ctx, "params", symbol, func(ctx context.Context) error {
		var err error
		params, err = e.params.Get(ctx, symbol)
		return err
	})
	return params, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
