package trading

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gtrader/internal/advisor"
	"gtrader/internal/analysis"
	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

type snapshot struct {
	history []models.PricePoint
	price   float64
}

func (l *Loop) startPhase(ctx context.Context, report *CycleReport, phase Phase) (context.Context, trace.Span) {
	report.Phase = phase
	return l.tracer.Start(ctx, "trading."+string(phase))
}

func endSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("outcome", outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fetch loads history and the current price for every asset. Assets that fail
// are left out of the cycle.
func (l *Loop) fetch(ctx context.Context, report *CycleReport) map[string]snapshot {
	ctx, span := l.startPhase(ctx, report, PhaseFetchData)
	defer span.End()

	out := make(map[string]snapshot, len(l.cfg.Assets))
	for _, coin := range l.cfg.Assets {
		if ctx.Err() != nil {
			break
		}
		history, err := l.market.PriceHistory(ctx, coin, l.cfg.Interval, l.cfg.Lookback)
		if err != nil {
			l.coinEntry(coin).WithError(err).Warn("Не удалось получить историю цен.")
			continue
		}
		price, err := l.market.CurrentPrice(ctx, coin)
		if err != nil {
			l.coinEntry(coin).WithError(err).Warn("Не удалось получить текущую цену.")
			continue
		}
		out[coin] = snapshot{history: history, price: price}
	}

	report.Assets = len(out)
	span.SetAttributes(attribute.Int("assets", len(out)))
	return out
}

func (l *Loop) analyze(ctx context.Context, report *CycleReport, snapshots map[string]snapshot) []analysis.Ranked {
	_, span := l.startPhase(ctx, report, PhaseAnalyze)
	defer span.End()

	signals := make(map[string]analysis.Signal, len(snapshots))
	for coin, snap := range snapshots {
		sig := l.analyzer.Analyze(snap.history)
		sig.Price = snap.price
		signals[coin] = sig
		l.coinEntry(coin).WithFields(map[string]interface{}{
			"rsi":        sig.RSI,
			"direction":  sig.Direction,
			"quality":    sig.QualityScore,
			"conviction": sig.Conviction,
		}).Debug(sig.Reasoning)
	}
	return analysis.Rank(signals)
}

// decide never fails: advisor errors and malformed replies become hold.
func (l *Loop) decide(ctx context.Context, report *CycleReport, ranked []analysis.Ranked) advisor.Decision {
	ctx, span := l.startPhase(ctx, report, PhaseDecide)
	defer span.End()

	mc := l.marketContext(ranked)
	var d advisor.Decision
	switch {
	case l.decider == nil:
		d = advisor.Hold("no advisor configured")
	default:
		var err error
		d, err = l.decider.Decide(ctx, mc)
		if err != nil {
			l.logEntry().WithError(err).Warn("Решение не получено, пропускаем сделку.")
			span.RecordError(err)
			d = advisor.Hold(fmt.Sprintf("advisor unavailable: %v", err))
		} else if d.IsTrade() && !inCandidates(mc, d.Coin) {
			l.logEntry().WithField("coin", d.Coin).Warn("Модель выбрала монету вне списка кандидатов.")
			d = advisor.Hold(fmt.Sprintf("coin %q is not a candidate", d.Coin))
		}
	}

	report.Decision = &d
	span.SetAttributes(attribute.String("action", string(d.Action)), attribute.String("coin", d.Coin))
	return d
}

func (l *Loop) marketContext(ranked []analysis.Ranked) advisor.MarketContext {
	state := l.gate.State()
	mc := advisor.MarketContext{
		Time:              l.now().UTC(),
		Interval:          l.cfg.Interval,
		TradesToday:       state.TradeCount,
		ConsecutiveLosses: state.ConsecutiveLosses,
	}
	for _, r := range ranked {
		ac := advisor.AssetContext{
			Coin:       r.Coin,
			Price:      r.Signal.Price,
			Direction:  string(r.Signal.Direction),
			Momentum:   r.Signal.MomentumScore,
			Volatility: r.Signal.VolatilityScore,
			Quality:    r.Signal.QualityScore,
			Conviction: r.Signal.Conviction,
			Reasoning:  r.Signal.Reasoning,
			HasOpen:    l.registry.HasOpen(r.Coin),
		}
		if r.Signal.RSIValid {
			rsi := r.Signal.RSI
			ac.RSI = &rsi
		}
		mc.Candidates = append(mc.Candidates, ac)
	}
	for _, t := range l.registry.OpenTrades() {
		mc.OpenTrades = append(mc.OpenTrades, advisor.OpenPosition{
			Coin:       t.Coin,
			Side:       string(models.SideFor(t.IsLong)),
			EntryPrice: t.EntryPrice,
			Size:       t.Size,
			Protected:  t.Protection == models.ProtectionFull,
		})
	}
	return mc
}

func (l *Loop) riskCheck(ctx context.Context, report *CycleReport, coin string) (bool, string) {
	_, span := l.startPhase(ctx, report, PhaseRiskCheck)
	defer span.End()

	if ok, reason := l.gate.CanTrade(); !ok {
		return false, reason
	}
	if l.registry.OpenCount() >= l.cfg.MaxConcurrentTrades {
		return false, fmt.Sprintf("max concurrent trades reached (%d)", l.cfg.MaxConcurrentTrades)
	}
	if l.registry.HasOpen(coin) {
		return false, fmt.Sprintf("trade already open for %s", coin)
	}
	return true, ""
}

// size returns zero with the report finished as skipped when the sizer rejects.
func (l *Loop) size(ctx context.Context, report *CycleReport) (float64, error) {
	ctx, span := l.startPhase(ctx, report, PhaseSize)
	defer span.End()

	equity, err := l.account.GetEquity(ctx)
	if err != nil {
		span.RecordError(err)
		l.logEntry().WithError(err).Warn("Не удалось получить капитал аккаунта.")
		return 0, fmt.Errorf("account equity: %w", err)
	}

	d := l.sizer.Size(equity, report.Conviction, l.registry.Exposure(), l.cfg.MaxExposure)
	span.SetAttributes(attribute.Float64("notional", d.NotionalValue))
	if d.Rejected() {
		report.finish(OutcomeSkipped, d.Reason)
		l.logEntry().WithField("reason", d.Reason).Info("Размер позиции нулевой, сделка пропущена.")
		return 0, nil
	}
	report.Notional = d.NotionalValue
	return d.NotionalValue, nil
}

func (l *Loop) execute(ctx context.Context, report *CycleReport, d advisor.Decision, notional, price float64) models.OrderResult {
	ctx, span := l.startPhase(ctx, report, PhaseExecute)
	defer span.End()
	span.SetAttributes(attribute.String("coin", d.Coin), attribute.Bool("long", d.IsLong()))

	res := l.exec.PlaceEntry(ctx, d.Coin, d.IsLong(), notional, price)
	if !res.Success && res.Unconfirmed {
		report.Err = res.Err
		span.RecordError(res.Err)
		l.coinEntry(d.Coin).WithError(res.Err).WithField("link_id", res.LinkID).Warn("Вход принят биржей, исполнение не подтверждено.")
		return res
	}
	if !res.Success {
		report.Err = res.Err
		report.finish(OutcomeFailed, fmt.Sprintf("entry failed: %v", res.Err))
		l.registry.RecordFailedAttempt()
		span.RecordError(res.Err)
		l.coinEntry(d.Coin).WithError(res.Err).WithField("attempts", res.Attempts).Warn("Вход не выполнен.")
	}
	return res
}

// reconcileEntry settles an entry the exchange accepted without a readable
// fill. A live position continues to ATTACH_EXITS with its real size, a flat
// one counts as a failed attempt, and an unreadable one is registered OPEN
// without exits so the coin stays blocked until RESOLVE sees the position.
func (l *Loop) reconcileEntry(ctx context.Context, report *CycleReport, d advisor.Decision, entry models.OrderResult) (models.OrderResult, error) {
	symbol := l.exec.Symbol(d.Coin)
	entryLog := l.coinEntry(d.Coin).WithField("link_id", entry.LinkID)

	pos, err := l.account.GetPosition(ctx, symbol)
	switch {
	case err != nil && exchange.IsAuth(err):
		return entry, err
	case err != nil:
		entryLog.WithError(err).Error("Позиция после входа неизвестна.")
		l.openUnconfirmed(ctx, report, d, entry, err)
		return entry, nil
	case pos.IsFlat():
		report.finish(OutcomeFailed, fmt.Sprintf("entry not confirmed and no position: %v", entry.Err))
		l.registry.RecordFailedAttempt()
		entryLog.Warn("Вход не подтверждён, позиции на бирже нет.")
		return entry, nil
	}

	entry.Success = true
	entry.Err = nil
	entry.FilledSize = pos.Size
	entry.AvgPrice = pos.AvgPrice
	if entry.AvgPrice <= 0 {
		entry.AvgPrice = entry.Price
	}
	report.Err = nil
	entryLog.WithFields(map[string]interface{}{
		"size":      entry.FilledSize,
		"avg_price": entry.AvgPrice,
	}).Warn("Вход подтверждён по открытой позиции.")
	return entry, nil
}

// openUnconfirmed registers an entry of unknown fill as an unprotected OPEN
// trade and raises the partial-protection alert.
func (l *Loop) openUnconfirmed(ctx context.Context, report *CycleReport, d advisor.Decision, entry models.OrderResult, posErr error) {
	trade := models.Trade{
		ID:         l.newTradeID(),
		Coin:       d.Coin,
		Symbol:     l.exec.Symbol(d.Coin),
		EntryPrice: entry.Price,
		Size:       entry.Size,
		IsLong:     d.IsLong(),
		Protection: models.ProtectionNone,
		Status:     models.TradeStatusOpen,
		Conviction: report.Conviction,
		Reasoning:  d.Reasoning,
		OpenedAt:   l.now(),
	}
	l.registry.Open(trade)
	report.Trade = &trade

	err := fmt.Errorf("entry %s not confirmed, position unknown: %w", entry.LinkID, posErr)
	report.Err = err
	report.finish(OutcomePartial, err.Error())
	l.log.WithTradeID(trade.ID).WithError(err).WithField("coin", trade.Coin).Error("Сделка открыта без защиты.")
	l.alert(ctx, "Позиция без полной защиты", map[string]interface{}{
		"trade_id":    trade.ID,
		"symbol":      trade.Symbol,
		"side":        models.SideFor(trade.IsLong),
		"size":        trade.Size,
		"entry":       trade.EntryPrice,
		"take_profit": priceOrNone(nil),
		"stop_loss":   priceOrNone(nil),
		"error":       err.Error(),
	})
}

func (l *Loop) attachExits(ctx context.Context, report *CycleReport, d advisor.Decision, entry models.OrderResult) {
	ctx, span := l.startPhase(ctx, report, PhaseAttachExits)
	defer span.End()

	size := entry.FilledSize
	if size <= 0 {
		size = entry.Size
	}
	p := l.exec.Protect(ctx, d.Coin, size, entry.AvgPrice, d.IsLong())

	trade := models.Trade{
		ID:              l.newTradeID(),
		Coin:            d.Coin,
		Symbol:          l.exec.Symbol(d.Coin),
		EntryPrice:      entry.AvgPrice,
		Size:            size,
		IsLong:          d.IsLong(),
		TakeProfitPrice: p.TakeProfitPrice(),
		StopLossPrice:   p.StopLossPrice(),
		TPOrderID:       p.TakeProfit.OrderID,
		SLOrderID:       p.StopLoss.OrderID,
		Protection:      p.Status,
		Status:          models.TradeStatusOpen,
		Conviction:      report.Conviction,
		Reasoning:       d.Reasoning,
		OpenedAt:        l.now(),
	}
	l.registry.Open(trade)
	report.Trade = &trade

	entryLog := l.log.WithTradeID(trade.ID).WithFields(map[string]interface{}{
		"coin":       trade.Coin,
		"entry":      trade.EntryPrice,
		"size":       trade.Size,
		"is_long":    trade.IsLong,
		"protection": trade.Protection,
	})

	if p.Err != nil {
		report.Err = p.Err
		report.finish(OutcomePartial, p.Err.Error())
		span.RecordError(p.Err)
		span.SetStatus(codes.Error, "partial protection")
		entryLog.WithError(p.Err).Error("Сделка открыта без полной защиты.")
		l.alert(ctx, "Позиция без полной защиты", map[string]interface{}{
			"trade_id":    trade.ID,
			"symbol":      trade.Symbol,
			"side":        models.SideFor(trade.IsLong),
			"size":        trade.Size,
			"entry":       trade.EntryPrice,
			"take_profit": priceOrNone(trade.TakeProfitPrice),
			"stop_loss":   priceOrNone(trade.StopLossPrice),
			"error":       p.Err.Error(),
		})
		return
	}

	report.finish(OutcomeTraded, "")
	entryLog.WithFields(map[string]interface{}{
		"take_profit": *trade.TakeProfitPrice,
		"stop_loss":   *trade.StopLossPrice,
	}).Info("Сделка открыта.")
}

// EffectiveConviction is the lower of the advisor's and the analyzer's
// conviction. A neutral, contrary or low-confidence signal counts as LOW.
func EffectiveConviction(d advisor.Decision, sig *analysis.Signal) models.Conviction {
	if sig == nil || !sig.Actionable() {
		return models.ConvictionLow
	}
	want := analysis.DirectionBearish
	if d.IsLong() {
		want = analysis.DirectionBullish
	}
	if sig.Direction != want {
		return models.ConvictionLow
	}
	c := models.MinConviction(d.Conviction, sig.Conviction)
	if c.Rank() == 0 {
		return models.ConvictionLow
	}
	return c
}

func findSignal(ranked []analysis.Ranked, coin string) *analysis.Signal {
	for i := range ranked {
		if ranked[i].Coin == coin {
			return &ranked[i].Signal
		}
	}
	return nil
}

func inCandidates(mc advisor.MarketContext, coin string) bool {
	for _, c := range mc.Candidates {
		if c.Coin == coin {
			return true
		}
	}
	return false
}

func priceOrNone(p *float64) interface{} {
	if p == nil {
		return "none"
	}
	return *p
}
