package trading

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

// resolve closes registry trades whose exchange position is flat and feeds
// the outcome to the risk gate. Only auth failures are returned.
func (l *Loop) resolve(ctx context.Context, report *CycleReport) error {
	ctx, span := l.startPhase(ctx, report, PhaseResolve)
	defer span.End()

	for _, t := range l.registry.OpenTrades() {
		if ctx.Err() != nil {
			return nil
		}
		closed, err := l.resolveTrade(ctx, t)
		if err != nil {
			if exchange.IsAuth(err) {
				return err
			}
			l.log.WithTradeID(t.ID).WithField("coin", t.Coin).WithError(err).Warn("Не удалось сверить сделку с биржей.")
			continue
		}
		if closed != nil {
			report.Resolved = append(report.Resolved, *closed)
		}
	}
	span.SetAttributes(attribute.Int("resolved", len(report.Resolved)))
	return nil
}

func (l *Loop) resolveTrade(ctx context.Context, t models.Trade) (*models.Trade, error) {
	pos, err := l.account.GetPosition(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}
	if !pos.IsFlat() {
		return nil, nil
	}

	records, err := l.account.GetClosedPnL(ctx, t.Symbol, t.OpenedAt)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if seen := l.registry.MarkFlatWithoutPnL(t.Coin); seen < l.cfg.PnLGraceCycles {
			l.log.WithTradeID(t.ID).WithFields(map[string]interface{}{
				"coin": t.Coin,
				"seen": seen,
			}).Info("Позиция закрыта, запись PnL ещё не появилась.")
			return nil, nil
		}
	}

	status := models.TradeStatusCancelled
	var pnl float64
	if len(records) > 0 {
		for _, r := range records {
			pnl += r.PnL
		}
		status = models.TradeStatusClosedLoss
		if pnl > 0 {
			status = models.TradeStatusClosedWin
		}
	}

	if err := l.exec.CancelExits(ctx, t.Coin, t.TPOrderID, t.SLOrderID); err != nil {
		l.log.WithTradeID(t.ID).WithError(err).Warn("Не удалось отменить оставшиеся выходные ордера.")
	}

	closed, ok := l.registry.Close(t.Coin, status, pnl, l.now())
	if !ok {
		return nil, nil
	}
	if status != models.TradeStatusCancelled {
		l.gate.RecordTradeOutcome(status == models.TradeStatusClosedWin)
	}
	l.metrics.TradeClosed(string(status))

	state := l.gate.State()
	l.log.WithTradeID(t.ID).WithFields(map[string]interface{}{
		"coin":               t.Coin,
		"status":             status,
		"pnl":                pnl,
		"trades_today":       state.TradeCount,
		"consecutive_losses": state.ConsecutiveLosses,
	}).Info("Сделка закрыта.")
	return &closed, nil
}
