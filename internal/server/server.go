package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"gtrader/internal/logger"
	"gtrader/internal/metrics"
	"gtrader/internal/risk"
	"gtrader/internal/trading"
)

// Status is the read-only view of the trading loop served by the ops routes.
type Status interface {
	LastCycle() trading.CycleReport
	RiskState() risk.DailyRiskState
	Registry() *trading.Registry
}

type Options struct {
	Addr        string
	ServiceName string
	// A last cycle older than this reports the loop as stalled.
	StaleAfter time.Duration
}

type Server struct {
	srv     *http.Server
	router  *gin.Engine
	status  Status
	opts    Options
	started time.Time
	now     func() time.Time
	log     *logrus.Entry
}

func New(opts Options, status Status, m *metrics.Metrics, log *logger.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":9102"
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "gtrader"
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		status:  status,
		opts:    opts,
		started: time.Now(),
		now:     time.Now,
		log:     log.WithComponent("server"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.GET("/healthz", s.health)
	r.GET("/positions", s.positions)
	r.GET("/decisions", s.decisions)
	r.GET("/trades", s.trades)
	r.GET("/performance", s.performance)
	if m != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	s.router = r

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.WithField("addr", s.opts.Addr).Info("HTTP сервер запущен.")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	LastCycle *cycleView          `json:"last_cycle,omitempty"`
	Risk      risk.DailyRiskState `json:"risk"`
	Portfolio trading.Summary     `json:"portfolio"`
}

type cycleView struct {
	Finished time.Time       `json:"finished"`
	Outcome  trading.Outcome `json:"outcome"`
	Phase    trading.Phase   `json:"phase"`
	Reason   string          `json:"reason,omitempty"`
	Took     string          `json:"took"`
}

func (s *Server) health(c *gin.Context) {
	now := s.now()
	resp := healthResponse{
		Status: "ok",
		Uptime: now.Sub(s.started).Round(time.Second).String(),
		Risk:   s.status.RiskState(),
	}
	if reg := s.status.Registry(); reg != nil {
		resp.Portfolio = reg.Summary()
	}

	code := http.StatusOK
	last := s.status.LastCycle()
	switch {
	case last.Finished.IsZero():
		resp.Status = "starting"
		if now.Sub(s.started) > s.opts.StaleAfter {
			resp.Status = "stalled"
			code = http.StatusServiceUnavailable
		}
	default:
		resp.LastCycle = &cycleView{
			Finished: last.Finished,
			Outcome:  last.Outcome,
			Phase:    last.Phase,
			Reason:   last.Reason,
			Took:     last.Duration().Round(time.Millisecond).String(),
		}
		switch {
		case last.Outcome == trading.OutcomeFatal:
			resp.Status = "stopped"
			code = http.StatusServiceUnavailable
		case now.Sub(last.Finished) > s.opts.StaleAfter:
			resp.Status = "stalled"
			code = http.StatusServiceUnavailable
		case last.Outcome == trading.OutcomePartial:
			resp.Status = "degraded"
		}
	}
	c.JSON(code, resp)
}
