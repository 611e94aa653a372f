package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gtrader/internal/exchange"
	"gtrader/internal/logger"
	"gtrader/internal/models"
)

var ErrNoPrice = errors.New("no price available")

type Options struct {
	QuoteCoin string
	// Stream prices older than this fall back to REST.
	MaxTickerAge   time.Duration
	RequestTimeout time.Duration
}

// Provider serves price history from REST klines and the current price from
// the websocket ticker cache when it is fresh enough.
type Provider struct {
	client exchange.MarketClient
	opts   Options
	log    *logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	tickers map[string]models.Ticker
}

func New(client exchange.MarketClient, opts Options, log *logger.Logger) *Provider {
	if opts.QuoteCoin == "" {
		opts.QuoteCoin = "USDT"
	}
	if opts.MaxTickerAge <= 0 {
		opts.MaxTickerAge = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Provider{
		client:  client,
		opts:    opts,
		log:     log,
		now:     time.Now,
		tickers: map[string]models.Ticker{},
	}
}

func (p *Provider) symbol(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + p.opts.QuoteCoin
}

// PriceHistory returns up to lookback closes, oldest first.
func (p *Provider) PriceHistory(ctx context.Context, coin, interval string, lookback int) ([]models.PricePoint, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	symbol := p.symbol(coin)

	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	points, err := p.client.GetKlines(ctx, symbol, interval, lookback)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	return points, nil
}

func (p *Provider) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	symbol := p.symbol(coin)
	if t, ok := p.freshTicker(symbol); ok {
		return t.LastPrice, nil
	}

	p.logEntry(symbol).Debug("Свежего тикера нет, цена запрошена через REST.")
	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	price, err := p.client.GetLastPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("last price %s: %w", symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
	}
	return price, nil
}

func (p *Provider) logEntry(symbol string) *logrus.Entry {
	if symbol == "" {
		return p.log.WithComponent("marketdata")
	}
	return p.log.WithSymbol(symbol).WithField("component", "marketdata")
}

func (p *Provider) freshTicker(symbol string) (models.Ticker, bool) {
	p.mu.RLock()
	t, ok := p.tickers[symbol]
	p.mu.RUnlock()
	if !ok || t.LastPrice <= 0 {
		return models.Ticker{}, false
	}
	return t, p.now().Sub(t.Timestamp) <= p.opts.MaxTickerAge
}

// Update stores a ticker unless a newer one for the symbol is already held.
func (p *Provider) Update(t models.Ticker) {
	if t.Symbol == "" || t.LastPrice <= 0 {
		return
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = p.now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.tickers[t.Symbol]; ok && prev.Timestamp.After(t.Timestamp) {
		return
	}
	p.tickers[t.Symbol] = t
}

// Consume feeds the cache from a ticker stream until ctx is done or the
// stream closes.
func (p *Provider) Consume(ctx context.Context, tickers <-chan models.Ticker) {
	p.logEntry("").Debug("Кэш тикеров запущен.")
	defer p.logEntry("").Debug("Кэш тикеров остановлен.")
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickers:
			if !ok {
				return
			}
			p.Update(t)
		}
	}
}
