package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

var btcParams = exchange.AssetParameters{
	Symbol: "BTCUSDT", TickSize: 0.1, QtyStep: 0.001, MinOrderQty: 0.001,
	MinNotional: 5, SizeDecimals: 3, PriceDecimals: 1,
}

type fakeGateway struct {
	mu        sync.Mutex
	errs      map[models.OrderKind][]error
	calls     map[models.OrderKind]int
	submitted []models.Order
	orders    map[string]models.Order
	fillPrice float64
	getErr    error
	cancelled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		errs:      map[models.OrderKind][]error{},
		calls:     map[models.OrderKind]int{},
		orders:    map[string]models.Order{},
		fillPrice: 60000,
	}
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, order models.Order) (models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.calls[order.Kind]
	g.calls[order.Kind]++
	g.submitted = append(g.submitted, order)
	if n < len(g.errs[order.Kind]) && g.errs[order.Kind][n] != nil {
		return models.Order{}, g.errs[order.Kind][n]
	}

	order.ID = "id-" + order.LinkID
	order.Status = models.OrderStatusNew
	if order.Kind == models.OrderKindEntry {
		order.Status = models.OrderStatusFilled
		order.FilledQty = order.Qty
		order.AvgPrice = g.fillPrice
	}
	g.orders[order.LinkID] = order
	return order, nil
}

func (g *fakeGateway) GetOrder(ctx context.Context, symbol, linkID string) (models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return models.Order{}, g.getErr
	}
	order, ok := g.orders[linkID]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, linkID)
	}
	return order, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeGateway) submittedKinds() []models.OrderKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.OrderKind, len(g.submitted))
	for i, o := range g.submitted {
		out[i] = o.Kind
	}
	return out
}

type fakeSource struct {
	params map[string]exchange.AssetParameters
	calls  int
	err    error
}

func (s *fakeSource) GetAssetParameters(ctx context.Context, symbol string) (exchange.AssetParameters, error) {
	s.calls++
	if s.err != nil {
		return exchange.AssetParameters{}, s.err
	}
	p, ok := s.params[symbol]
	if !ok {
		return exchange.AssetParameters{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}
	return p, nil
}

type memStore struct {
	data map[string]exchange.AssetParameters
	puts int
}

func (m *memStore) Get(ctx context.Context, symbol string) (exchange.AssetParameters, bool, error) {
	p, ok := m.data[symbol]
	return p, ok, nil
}

func (m *memStore) Put(ctx context.Context, p exchange.AssetParameters) error {
	m.puts++
	m.data[p.Symbol] = p
	return nil
}

type harness struct {
	engine  *Engine
	gateway *fakeGateway
	source  *fakeSource
	sleeps  []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gateway: newFakeGateway(),
		source:  &fakeSource{params: map[string]exchange.AssetParameters{"BTCUSDT": btcParams}},
	}
	cfg := DefaultConfig()
	cfg.FillTimeout = 200 * time.Millisecond
	h.engine = New(h.gateway, NewParamsCache(h.source, nil, nil), cfg, nil, nil)
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func decimalsOf(v float64) int32 {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		return int32(len(s) - dot - 1)
	}
	return 0
}

func TestRoundSizeNeverExceedsInputOrPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	steps := []exchange.AssetParameters{
		{QtyStep: 1, SizeDecimals: 0},
		{QtyStep: 0.1, SizeDecimals: 1},
		{QtyStep: 0.01, SizeDecimals: 2},
		{QtyStep: 0.001, SizeDecimals: 3},
		{QtyStep: 0.5, SizeDecimals: 1},
		{QtyStep: 0.00001, SizeDecimals: 5},
	}
	for i := 0; i < 20000; i++ {
		p := steps[rng.Intn(len(steps))]
		size := rng.Float64() * 1000 * []float64{1, 0.001, 0.00001}[rng.Intn(3)]

		out := RoundSize(size, p)
		require.LessOrEqual(t, out, size, "size %v step %v", size, p.QtyStep)
		require.LessOrEqual(t, decimalsOf(out), p.SizeDecimals, "size %v step %v -> %v", size, p.QtyStep, out)
		require.Less(t, size-out, p.QtyStep+1e-9)
	}
}

func TestRoundPriceNearestTick(t *testing.T) {
	assert.Equal(t, 100.0, RoundPrice(100.04, btcParams))
	assert.Equal(t, 100.1, RoundPrice(100.06, btcParams))
	assert.Equal(t, 61800.0, RoundPrice(CalcTPPrice(60000, 3, true), btcParams))

	half := exchange.AssetParameters{TickSize: 0.5, PriceDecimals: 1}
	assert.Equal(t, 101.5, RoundPrice(101.26, half))
	assert.Equal(t, 101.0, RoundPrice(101.24, half))

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		p := exchange.AssetParameters{TickSize: 0.0001, PriceDecimals: 4}
		price := rng.Float64() * 10
		out := RoundPrice(price, p)
		require.LessOrEqual(t, decimalsOf(out), p.PriceDecimals)
		require.InDelta(t, price, out, 0.00005+1e-12)
	}
}

func TestCalcExitPrices(t *testing.T) {
	assert.InDelta(t, 61800, CalcTPPrice(60000, 3, true), 1e-6)
	assert.InDelta(t, 59100, CalcSLPrice(60000, 1.5, true), 1e-6)
	assert.InDelta(t, 58200, CalcTPPrice(60000, 3, false), 1e-6)
	assert.InDelta(t, 60900, CalcSLPrice(60000, 1.5, false), 1e-6)
}

func TestPlaceEntrySuccess(t *testing.T) {
	h := newHarness(t)

	res := h.engine.PlaceEntry(context.Background(), "btc", true, 300, 60000)

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0.005, res.Size)
	assert.Equal(t, 0.005, res.FilledSize)
	assert.Equal(t, 60000.0, res.AvgPrice)
	assert.NotEmpty(t, res.OrderID)

	require.Len(t, h.gateway.submitted, 1)
	order := h.gateway.submitted[0]
	assert.Equal(t, "BTCUSDT", order.Symbol)
	assert.Equal(t, models.OrderSideBuy, order.Side)
	assert.Equal(t, models.OrderTypeMarket, order.Type)
	assert.Equal(t, "IOC", order.TimeInForce)
	assert.False(t, order.ReduceOnly)
	assert.Equal(t, int32(3), order.SizeDecimals)
	assert.True(t, strings.HasPrefix(order.LinkID, "gt-en-"))
	assert.LessOrEqual(t, len(order.LinkID), 36)
}

func TestPlaceEntryShortSide(t *testing.T) {
	h := newHarness(t)
	res := h.engine.PlaceEntry(context.Background(), "BTC", false, 200, 60000)
	require.True(t, res.Success)
	assert.Equal(t, models.OrderSideSell, h.gateway.submitted[0].Side)
	assert.Equal(t, 0.003, res.Size)
}

func TestPlaceEntryValidation(t *testing.T) {
	tests := []struct {
		name     string
		coin     string
		notional float64
		price    float64
		field    string
	}{
		{"below min qty", "BTC", 50, 60000, "size"},
		{"zero notional", "BTC", 0, 60000, "notional"},
		{"zero price", "BTC", 300, 0, "price"},
		{"unknown asset", "NOPE", 300, 1, "asset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res := h.engine.PlaceEntry(context.Background(), tt.coin, true, tt.notional, tt.price)

			assert.False(t, res.Success)
			var v *ValidationError
			require.ErrorAs(t, res.Err, &v)
			assert.Equal(t, tt.field, v.Field)
			assert.Empty(t, h.gateway.submitted)
		})
	}
}

func TestPlaceEntryMinNotional(t *testing.T) {
	h := newHarness(t)
	p := btcParams
	p.MinNotional = 100
	h.source.params["BTCUSDT"] = p

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 90, 60000)
	assert.True(t, IsValidation(res.Err))
	assert.Empty(t, h.gateway.submitted)
}

func TestTransientErrorsAreRetriedWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.gateway.errs[models.OrderKindEntry] = []error{
		&exchange.APIError{Code: 10006, Msg: "Too many visits!"},
		&exchange.APIError{Code: 10016, Msg: "server error"},
	}

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{4 * time.Second, 2 * time.Second}, h.sleeps)

	links := map[string]bool{}
	for _, o := range h.gateway.submitted {
		links[o.LinkID] = true
	}
	assert.Len(t, links, 1, "retries must reuse the link id")
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	for _, err := range []error{
		&exchange.APIError{Code: 110007, Msg: "ab not enough for new order"},
		&exchange.APIError{Code: 10001, Msg: "params error"},
		&exchange.APIError{Code: 123456, Msg: "insufficient liquidity"},
	} {
		t.Run(err.Error(), func(t *testing.T) {
			h := newHarness(t)
			h.gateway.errs[models.OrderKindEntry] = []error{err}

			res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

			assert.False(t, res.Success)
			assert.Equal(t, 1, res.Attempts)
			assert.Len(t, h.gateway.submitted, 1)
			assert.Empty(t, h.sleeps)
			var failure *ExecutionFailure
			assert.False(t, errors.As(res.Err, &failure))
		})
	}
}

func TestExhaustedRetriesEscalate(t *testing.T) {
	h := newHarness(t)
	transient := &exchange.APIError{Code: 10016}
	h.gateway.errs[models.OrderKindEntry] = []error{transient, transient, transient, transient, transient}

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	var failure *ExecutionFailure
	require.ErrorAs(t, res.Err, &failure)
	assert.Equal(t, 4, failure.Attempts)
	assert.ErrorIs(t, res.Err, transient)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestBackoffIsCapped(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.MaxAttempts = 6
	h.engine.cfg.MaxBackoff = 3 * time.Second
	rate := &exchange.APIError{Code: 10006}
	h.gateway.errs[models.OrderKindEntry] = []error{rate, rate, rate}

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)
	require.True(t, res.Success)
	for _, d := range h.sleeps {
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestDuplicateLinkIDMeansEarlierAttemptLanded(t *testing.T) {
	h := newHarness(t)
	h.gateway.errs[models.OrderKindEntry] = []error{
		&exchange.TransportError{Op: "read body", Err: errors.New("unexpected EOF")},
	}
	// The first submission reaches the exchange even though the reply is lost.
	h.engine.newLinkID = func(models.OrderKind) string { return "gt-en-fixed" }
	h.gateway.orders["gt-en-fixed"] = models.Order{
		ID: "landed", LinkID: "gt-en-fixed", Symbol: "BTCUSDT", Kind: models.OrderKindEntry,
		Status: models.OrderStatusFilled, Qty: 0.005, FilledQty: 0.005, AvgPrice: 60010,
	}
	h.gateway.errs[models.OrderKindEntry] = append(h.gateway.errs[models.OrderKindEntry],
		&exchange.APIError{Code: 110072, Msg: "OrderLinkedID is duplicate"})

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, "landed", res.OrderID)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 60010.0, res.AvgPrice)
	assert.Len(t, h.gateway.submitted, 2)
}

func TestEntryNotFilled(t *testing.T) {
	h := newHarness(t)
	h.engine.newLinkID = func(models.OrderKind) string { return "gt-en-x" }
	h.engine.client = &cancellingGateway{fakeGateway: h.gateway}

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

	assert.False(t, res.Success)
	var failure *ExecutionFailure
	require.ErrorAs(t, res.Err, &failure)
	assert.Contains(t, res.Err.Error(), "without a fill")
	assert.False(t, res.Unconfirmed)
}

// cancellingGateway accepts orders that the exchange then cancels unfilled.
type cancellingGateway struct {
	*fakeGateway
}

func (g *cancellingGateway) PlaceOrder(ctx context.Context, order models.Order) (models.Order, error) {
	placed, err := g.fakeGateway.PlaceOrder(ctx, order)
	if err != nil {
		return placed, err
	}
	g.mu.Lock()
	o := g.orders[order.LinkID]
	o.Status = models.OrderStatusCancelled
	o.FilledQty = 0
	g.orders[order.LinkID] = o
	g.mu.Unlock()
	return placed, nil
}

func TestFillNotConfirmedInTime(t *testing.T) {
	h := newHarness(t)
	h.gateway.getErr = &exchange.APIError{Code: 10016}
	h.engine.sleep = sleepCtx
	h.engine.cfg.FillPoll = 5 * time.Millisecond
	h.engine.cfg.FillTimeout = 50 * time.Millisecond

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)

	assert.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "not confirmed")
	assert.True(t, res.Unconfirmed)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, []models.OrderKind{models.OrderKindEntry}, h.gateway.submittedKinds())
}

func TestExitOrdersLong(t *testing.T) {
	h := newHarness(t)

	tp, sl := h.engine.PlaceTakeProfitAndStopLoss(context.Background(), "BTC", 0.005, 60000, true)

	require.True(t, tp.Success, "%v", tp.Err)
	require.True(t, sl.Success, "%v", sl.Err)
	assert.Equal(t, 61800.0, tp.Price)
	assert.Equal(t, 59100.0, sl.Price)

	require.Len(t, h.gateway.submitted, 2)
	tpOrder, slOrder := h.gateway.submitted[0], h.gateway.submitted[1]

	assert.Equal(t, models.OrderSideSell, tpOrder.Side)
	assert.Equal(t, models.OrderTypeLimit, tpOrder.Type)
	assert.Equal(t, "GTC", tpOrder.TimeInForce)
	assert.True(t, tpOrder.ReduceOnly)
	assert.Equal(t, 0.005, tpOrder.Qty)

	assert.Equal(t, models.OrderSideSell, slOrder.Side)
	assert.Equal(t, models.OrderTypeMarket, slOrder.Type)
	assert.Equal(t, 59100.0, slOrder.TriggerPrice)
	assert.True(t, slOrder.ReduceOnly)
}

func TestExitOrdersShort(t *testing.T) {
	h := newHarness(t)

	tp, sl := h.engine.PlaceTakeProfitAndStopLoss(context.Background(), "BTC", 0.005, 60000, false)

	require.True(t, tp.Success)
	require.True(t, sl.Success)
	assert.Equal(t, 58200.0, tp.Price)
	assert.Equal(t, 60900.0, sl.Price)
	for _, o := range h.gateway.submitted {
		assert.Equal(t, models.OrderSideBuy, o.Side)
	}
}

func TestStopLossFailureLeavesPartialProtection(t *testing.T) {
	h := newHarness(t)
	down := &exchange.APIError{HTTPStatus: 503, Msg: "Service Unavailable"}
	h.gateway.errs[models.OrderKindStopLoss] = []error{down, down, down, down}

	p := h.engine.Protect(context.Background(), "BTC", 0.005, 60000, true)

	assert.Equal(t, models.ProtectionPartial, p.Status)
	require.NotNil(t, p.TakeProfitPrice())
	assert.Equal(t, 61800.0, *p.TakeProfitPrice())
	assert.Nil(t, p.StopLossPrice())
	assert.Equal(t, 4, p.StopLoss.Attempts)

	var partial *PartialProtectionError
	require.ErrorAs(t, p.Err, &partial)
	assert.NoError(t, partial.TakeProfitErr)
	assert.Error(t, partial.StopLossErr)
	var failure *ExecutionFailure
	assert.ErrorAs(t, p.Err, &failure)
	assert.Contains(t, p.Err.Error(), "stop-loss")

	assert.Equal(t, []models.OrderKind{
		models.OrderKindTakeProfit,
		models.OrderKindStopLoss, models.OrderKindStopLoss, models.OrderKindStopLoss, models.OrderKindStopLoss,
	}, h.gateway.submittedKinds())
}

func TestProtectBothLegsFail(t *testing.T) {
	h := newHarness(t)
	bad := &exchange.APIError{Code: 110017, Msg: "reduce-only rule not satisfied"}
	h.gateway.errs[models.OrderKindTakeProfit] = []error{bad}
	h.gateway.errs[models.OrderKindStopLoss] = []error{bad}

	p := h.engine.Protect(context.Background(), "BTC", 0.005, 60000, true)

	assert.Equal(t, models.ProtectionNone, p.Status)
	assert.Nil(t, p.TakeProfitPrice())
	assert.Nil(t, p.StopLossPrice())
	assert.Error(t, p.Err)
}

func TestProtectFull(t *testing.T) {
	h := newHarness(t)
	p := h.engine.Protect(context.Background(), "BTC", 0.005, 60000, true)
	assert.Equal(t, models.ProtectionFull, p.Status)
	assert.NoError(t, p.Err)
}

func TestParamsFetchedOnce(t *testing.T) {
	h := newHarness(t)
	store := &memStore{data: map[string]exchange.AssetParameters{}}
	h.engine.params = NewParamsCache(h.source, store, nil)

	for i := 0; i < 3; i++ {
		res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)
		require.True(t, res.Success)
	}
	assert.Equal(t, 1, h.source.calls)
	assert.Equal(t, 1, store.puts)

	// A fresh process reads the shared store instead of the exchange.
	again := NewParamsCache(h.source, store, nil)
	p, err := again.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, btcParams, p)
	assert.Equal(t, 1, h.source.calls)
}

func TestParamsTransientFailureRetried(t *testing.T) {
	h := newHarness(t)
	flaky := &flakySource{inner: h.source, failures: 2}
	h.engine.params = NewParamsCache(flaky, nil, nil)

	res := h.engine.PlaceEntry(context.Background(), "BTC", true, 300, 60000)
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, 3, flaky.calls)
}

type flakySource struct {
	inner    ParamsSource
	failures int
	calls    int
}

func (f *flakySource) GetAssetParameters(ctx context.Context, symbol string) (exchange.AssetParameters, error) {
	f.calls++
	if f.calls <= f.failures {
		return exchange.AssetParameters{}, context.DeadlineExceeded
	}
	return f.inner.GetAssetParameters(ctx, symbol)
}

func TestCancelExits(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.CancelExits(context.Background(), "BTC", "tp-1", "", "sl-1"))
	assert.Equal(t, []string{"tp-1", "sl-1"}, h.gateway.cancelled)
}

func TestNewLinkIDUnique(t *testing.T) {
	a, b := newLinkID(models.OrderKindStopLoss), newLinkID(models.OrderKindStopLoss)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "gt-sl-"))
	assert.LessOrEqual(t, len(a), 36)
}
