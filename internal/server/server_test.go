package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtrader/internal/logger"
	"gtrader/internal/metrics"
	"gtrader/internal/models"
	"gtrader/internal/risk"
	"gtrader/internal/trading"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatus struct {
	last     trading.CycleReport
	state    risk.DailyRiskState
	registry *trading.Registry
}

func (f *fakeStatus) LastCycle() trading.CycleReport  { return f.last }
func (f *fakeStatus) RiskState() risk.DailyRiskState { return f.state }
func (f *fakeStatus) Registry() *trading.Registry    { return f.registry }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func newTestServer(status *fakeStatus, m *metrics.Metrics, now time.Time) *Server {
	s := New(Options{StaleAfter: time.Hour}, status, m, logger.Discard())
	s.now = func() time.Time { return now }
	s.started = now.Add(-10 * time.Minute)
	return s
}

func TestHealthStarting(t *testing.T) {
	now := time.Now()
	s := newTestServer(&fakeStatus{registry: trading.NewRegistry()}, nil, now)

	w := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "starting", body["status"])
	assert.Nil(t, body["last_cycle"])
}

func TestHealthReportsLastCycleAndPortfolio(t *testing.T) {
	now := time.Now()
	reg := trading.NewRegistry()
	reg.Open(models.Trade{Coin: "BTC", EntryPrice: 100, Size: 3})
	status := &fakeStatus{
		last: trading.CycleReport{
			Started:  now.Add(-2 * time.Minute),
			Finished: now.Add(-time.Minute),
			Outcome:  trading.OutcomeTraded,
			Phase:    trading.PhaseAttachExits,
		},
		state:    risk.DailyRiskState{Date: "2026-03-02", TradeCount: 2, ConsecutiveLosses: 1},
		registry: reg,
	}
	s := newTestServer(status, nil, now)

	w := get(t, s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.LastCycle)
	assert.Equal(t, trading.OutcomeTraded, body.LastCycle.Outcome)
	assert.Equal(t, "1m0s", body.LastCycle.Took)
	assert.Equal(t, 2, body.Risk.TradeCount)
	assert.Equal(t, 1, body.Portfolio.OpenTrades)
	assert.InDelta(t, 300.0, body.Portfolio.Exposure, 1e-9)
}

func TestHealthUnavailableStates(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		last   trading.CycleReport
		code   int
		status string
	}{
		{"fatal", trading.CycleReport{Finished: now, Outcome: trading.OutcomeFatal}, http.StatusServiceUnavailable, "stopped"},
		{"stale", trading.CycleReport{Finished: now.Add(-2 * time.Hour), Outcome: trading.OutcomeHold}, http.StatusServiceUnavailable, "stalled"},
		{"partial", trading.CycleReport{Finished: now, Outcome: trading.OutcomePartial}, http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeStatus{last: tt.last, registry: trading.NewRegistry()}, nil, now)
			w := get(t, s.Handler(), "/healthz")
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"`+tt.status+`"`)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.PartialProtection()
	s := newTestServer(&fakeStatus{registry: trading.NewRegistry()}, m, time.Now())

	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "gtrader_partial_protection_total 1"))
}

func TestMetricsEndpointDisabledWithoutRegistry(t *testing.T) {
	s := newTestServer(&fakeStatus{registry: trading.NewRegistry()}, nil, time.Now())
	w := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
