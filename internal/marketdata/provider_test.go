package marketdata

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtrader/internal/logger"
	"gtrader/internal/models"
)

type fakeMarket struct {
	klines    []models.PricePoint
	last      float64
	err       error
	lastCalls int
	gotSymbol string
	gotLimit  int
}

func (f *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.PricePoint, error) {
	f.gotSymbol = symbol
	f.gotLimit = limit
	return f.klines, f.err
}

func (f *fakeMarket) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	f.lastCalls++
	f.gotSymbol = symbol
	return f.last, f.err
}

func newProvider(m *fakeMarket, now time.Time) *Provider {
	p := New(m, Options{QuoteCoin: "USDT", MaxTickerAge: 30 * time.Second}, logger.Discard())
	p.now = func() time.Time { return now }
	return p
}

func TestPriceHistory(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m := &fakeMarket{klines: []models.PricePoint{{Time: base, Price: 1}, {Time: base.Add(time.Minute), Price: 2}}}
	p := newProvider(m, base)

	pts, err := p.PriceHistory(context.Background(), "btc", "15m", 100)
	require.NoError(t, err)
	assert.Len(t, pts, 2)
	assert.Equal(t, "BTCUSDT", m.gotSymbol)
	assert.Equal(t, 100, m.gotLimit)

	_, err = p.PriceHistory(context.Background(), "btc", "15m", 0)
	assert.Error(t, err)
}

func TestPriceHistoryWrapsErrors(t *testing.T) {
	boom := errors.New("unreachable")
	p := newProvider(&fakeMarket{err: boom}, time.Now())
	_, err := p.PriceHistory(context.Background(), "ETH", "1h", 50)
	assert.ErrorIs(t, err, boom)
}

func TestCurrentPricePrefersFreshTicker(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := &fakeMarket{last: 100}
	p := newProvider(m, now)

	p.Update(models.Ticker{Symbol: "BTCUSDT", LastPrice: 64000, Timestamp: now.Add(-5 * time.Second)})
	price, err := p.CurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 64000.0, price)
	assert.Zero(t, m.lastCalls)
}

func TestCurrentPriceFallsBackWhenStale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := &fakeMarket{last: 63000}
	p := newProvider(m, now)

	p.Update(models.Ticker{Symbol: "BTCUSDT", LastPrice: 64000, Timestamp: now.Add(-time.Minute)})
	price, err := p.CurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 63000.0, price)
	assert.Equal(t, 1, m.lastCalls)
}

func TestCurrentPriceRESTFallbackLogsSymbol(t *testing.T) {
	var buf bytes.Buffer
	m := &fakeMarket{last: 42}
	p := New(m, Options{QuoteCoin: "USDT"}, logger.NewWithWriter(&buf, logrus.DebugLevel))

	price, err := p.CurrentPrice(context.Background(), "sol")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Contains(t, buf.String(), "symbol=SOLUSDT")
	assert.Contains(t, buf.String(), "component=marketdata")
}

func TestCurrentPriceZeroIsError(t *testing.T) {
	p := newProvider(&fakeMarket{}, time.Now())
	_, err := p.CurrentPrice(context.Background(), "SOL")
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestUpdateKeepsNewest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := newProvider(&fakeMarket{}, now)

	p.Update(models.Ticker{Symbol: "ETHUSDT", LastPrice: 3000, Timestamp: now})
	p.Update(models.Ticker{Symbol: "ETHUSDT", LastPrice: 2900, Timestamp: now.Add(-time.Second)})
	p.Update(models.Ticker{Symbol: "ETHUSDT", LastPrice: 0, Timestamp: now.Add(time.Second)})

	tk, ok := p.freshTicker("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, tk.LastPrice)
}

func TestConsume(t *testing.T) {
	now := time.Now()
	p := New(&fakeMarket{}, Options{}, logger.Discard())
	ch := make(chan models.Ticker, 2)
	ch <- models.Ticker{Symbol: "XRPUSDT", LastPrice: 0.5, Timestamp: now}
	close(ch)

	done := make(chan struct{})
	go func() {
		p.Consume(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after the stream closed")
	}
	price, err := p.CurrentPrice(context.Background(), "XRP")
	require.NoError(t, err)
	assert.Equal(t, 0.5, price)
}
