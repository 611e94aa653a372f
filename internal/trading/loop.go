package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gtrader/internal/advisor"
	"gtrader/internal/analysis"
	"gtrader/internal/engine"
	"gtrader/internal/exchange"
	"gtrader/internal/logger"
	"gtrader/internal/metrics"
	"gtrader/internal/models"
	"gtrader/internal/risk"
	"gtrader/internal/sizing"
)

// ErrFatal wraps errors that stop Run: rejected credentials or an unknown account.
var ErrFatal = errors.New("fatal trading error")

type Decider interface {
	Decide(ctx context.Context, mc advisor.MarketContext) (advisor.Decision, error)
}

type MarketData interface {
	PriceHistory(ctx context.Context, coin, interval string, lookback int) ([]models.PricePoint, error)
	CurrentPrice(ctx context.Context, coin string) (float64, error)
}

type Account interface {
	GetEquity(ctx context.Context) (float64, error)
	GetPosition(ctx context.Context, symbol string) (exchange.Position, error)
	GetClosedPnL(ctx context.Context, symbol string, since time.Time) ([]exchange.ClosedPnL, error)
}

// Executor is implemented by *engine.Engine.
type Executor interface {
	Symbol(coin string) string
	PlaceEntry(ctx context.Context, coin string, isLong bool, notional, currentPrice float64) models.OrderResult
	Protect(ctx context.Context, coin string, size, entryPrice float64, isLong bool) engine.Protection
	CancelExits(ctx context.Context, coin string, orderIDs ...string) error
}

type Alerter interface {
	Alert(ctx context.Context, title string, fields map[string]interface{}) error
}

type Config struct {
	Assets              []string
	Interval            string
	Lookback            int
	CycleInterval       time.Duration
	MaxConcurrentTrades int
	// Fraction of equity, 1.0 is 100%.
	MaxExposure float64
	// Bound on EXECUTE plus ATTACH_EXITS, independent of shutdown.
	PhaseTimeout time.Duration
	// Cycles a flat position may wait for its closed-PnL record before the
	// trade is cancelled.
	PnLGraceCycles int
}

type Deps struct {
	Market   MarketData
	Decider  Decider
	Account  Account
	Executor Executor
	Analyzer *analysis.Analyzer
	Gate     *risk.Gate
	Sizer    *sizing.Sizer
	Registry *Registry
	Alerts   Alerter
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Log      *logger.Logger
}

// Loop runs one trading cycle at a time. It owns the risk gate and the
// registry; nothing else mutates them.
type Loop struct {
	cfg      Config
	market   MarketData
	decider  Decider
	account  Account
	exec     Executor
	analyzer *analysis.Analyzer
	gate     *risk.Gate
	sizer    *sizing.Sizer
	registry *Registry
	alerts   Alerter
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *logger.Logger

	now        func() time.Time
	newTradeID func() string

	mu   sync.RWMutex
	last CycleReport
}

func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Market == nil:
		return nil, errors.New("trading: market data is required")
	case deps.Account == nil:
		return nil, errors.New("trading: account is required")
	case deps.Executor == nil:
		return nil, errors.New("trading: executor is required")
	case deps.Gate == nil:
		return nil, errors.New("trading: risk gate is required")
	case deps.Sizer == nil:
		return nil, errors.New("trading: sizer is required")
	case len(cfg.Assets) == 0:
		return nil, errors.New("trading: no assets configured")
	}
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 15 * time.Minute
	}
	if cfg.MaxConcurrentTrades <= 0 {
		cfg.MaxConcurrentTrades = 4
	}
	if cfg.MaxExposure <= 0 {
		cfg.MaxExposure = 1
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 3 * time.Minute
	}
	if cfg.PnLGraceCycles <= 0 {
		cfg.PnLGraceCycles = 3
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.NewAnalyzer(analysis.DefaultConfig())
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("gtrader/trading")
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}

	return &Loop{
		cfg:        cfg,
		market:     deps.Market,
		decider:    deps.Decider,
		account:    deps.Account,
		exec:       deps.Executor,
		analyzer:   deps.Analyzer,
		gate:       deps.Gate,
		sizer:      deps.Sizer,
		registry:   deps.Registry,
		alerts:     deps.Alerts,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		log:        deps.Log,
		now:        time.Now,
		newTradeID: uuid.NewString,
	}, nil
}

func (l *Loop) Registry() *Registry {
	return l.registry
}

func (l *Loop) RiskState() risk.DailyRiskState {
	return l.gate.State()
}

// LastCycle returns the report of the most recent finished cycle.
func (l *Loop) LastCycle() CycleReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// Run starts a cycle immediately and then on every CycleInterval tick. It
// returns nil on shutdown and an ErrFatal error when the account is unusable.
func (l *Loop) Run(ctx context.Context) error {
	l.logEntry().WithFields(map[string]interface{}{
		"assets":   l.cfg.Assets,
		"interval": l.cfg.Interval,
		"every":    l.cfg.CycleInterval.String(),
	}).Info("Торговый цикл запущен.")

	ticker := time.NewTicker(l.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if _, err := l.RunCycle(ctx); err != nil {
			l.logEntry().WithError(err).Error("Торговый цикл остановлен.")
			l.alert(context.WithoutCancel(ctx), "Торговля остановлена", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}

		select {
		case <-ctx.Done():
			l.logEntry().Info("Торговый цикл завершён.")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass through the state machine. Only fatal errors
// are returned; everything else ends up in the report.
func (l *Loop) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{Started: l.now()}

	ctx, span := l.tracer.Start(ctx, "trading.cycle")
	defer func() {
		report.Finished = l.now()
		l.afterCycle(report)
		endSpan(span, string(report.Outcome), report.Err)
	}()

	if l.gate.ResetIfNewDay() {
		l.logEntry().WithField("date", l.gate.State().Date).Info("Новый торговый день, дневные счётчики сброшены.")
	}

	if err := l.resolve(ctx, &report); err != nil {
		return l.fatal(&report, err)
	}
	if l.aborted(ctx, &report) {
		return report, nil
	}

	snapshots := l.fetch(ctx, &report)
	if len(snapshots) == 0 {
		if !l.aborted(ctx, &report) {
			report.finish(OutcomeNoData, "no market data for any asset")
			l.logEntry().Warn("Нет рыночных данных, цикл пропущен.")
		}
		return report, nil
	}

	ranked := l.analyze(ctx, &report, snapshots)
	if l.aborted(ctx, &report) {
		return report, nil
	}

	decision := l.decide(ctx, &report, ranked)
	if !decision.IsTrade() {
		report.finish(OutcomeHold, decision.Reasoning)
		return report, nil
	}
	signal := findSignal(ranked, decision.Coin)
	report.Conviction = EffectiveConviction(decision, signal)

	if ok, reason := l.riskCheck(ctx, &report, decision.Coin); !ok {
		report.finish(OutcomeRejected, reason)
		l.metrics.RiskRejected(reason)
		l.logEntry().WithField("coin", decision.Coin).WithField("reason", reason).Info("Сделка отклонена риск-менеджером.")
		return report, nil
	}

	notional, err := l.size(ctx, &report)
	if err != nil {
		if exchange.IsAuth(err) {
			return l.fatal(&report, err)
		}
		report.Err = err
		report.finish(OutcomeSkipped, err.Error())
		return report, nil
	}
	if notional <= 0 {
		return report, nil
	}
	if l.aborted(ctx, &report) {
		return report, nil
	}

	// Past this point the cycle finishes even if ctx is cancelled.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.PhaseTimeout)
	defer cancel()

	entry := l.execute(execCtx, &report, decision, notional, snapshots[decision.Coin].price)
	if !entry.Success && entry.Unconfirmed {
		if entry, err = l.reconcileEntry(execCtx, &report, decision, entry); err != nil {
			return l.fatal(&report, err)
		}
	}
	if !entry.Success {
		if exchange.IsAuth(entry.Err) {
			return l.fatal(&report, entry.Err)
		}
		return report, nil
	}

	l.attachExits(execCtx, &report, decision, entry)
	return report, nil
}

func (l *Loop) fatal(report *CycleReport, err error) (CycleReport, error) {
	report.Err = err
	report.finish(OutcomeFatal, err.Error())
	return *report, fmt.Errorf("%w: %w", ErrFatal, err)
}

// aborted marks the cycle aborted when shutdown was requested between phases.
func (l *Loop) aborted(ctx context.Context, report *CycleReport) bool {
	if ctx.Err() == nil {
		return false
	}
	report.finish(OutcomeAborted, "shutdown requested")
	return true
}

func (l *Loop) afterCycle(report CycleReport) {
	if report.Outcome == "" {
		report.Outcome = OutcomeSkipped
	}
	if report.Decision != nil {
		l.registry.RecordDecision(DecisionRecord{
			Time:       report.Started,
			Action:     string(report.Decision.Action),
			Coin:       report.Decision.Coin,
			Conviction: report.Decision.Conviction,
			Effective:  report.Conviction,
			Reasoning:  report.Decision.Reasoning,
			Outcome:    report.Outcome,
			Reason:     report.Reason,
		})
	}

	summary := l.registry.Summary()
	state := l.gate.State()
	l.metrics.Cycle(string(report.Outcome), report.Duration())
	l.metrics.SetPortfolio(summary.OpenTrades, summary.Exposure, summary.RealizedPnL)
	l.metrics.SetRiskState(state.TradeCount, state.ConsecutiveLosses)

	l.mu.Lock()
	l.last = report
	l.mu.Unlock()

	l.logEntry().WithFields(map[string]interface{}{
		"outcome":     report.Outcome,
		"reason":      report.Reason,
		"phase":       report.Phase,
		"open_trades": summary.OpenTrades,
		"exposure":    summary.Exposure,
		"took":        report.Duration().Round(time.Millisecond).String(),
	}).Info("Цикл завершён.")
}

func (l *Loop) alert(ctx context.Context, title string, fields map[string]interface{}) {
	if l.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.alerts.Alert(ctx, title, fields); err != nil {
		l.logEntry().WithError(err).Warn("Не удалось отправить уведомление.")
	}
}
