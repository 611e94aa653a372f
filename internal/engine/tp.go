package engine

import (
	"context"
	"errors"
	"fmt"

	"gtrader/internal/models"
)

// PlaceTakeProfitAndStopLoss attaches reduce-only exits to a filled entry.
// The take-profit is a GTC limit; the stop-loss is a conditional market
// order on the trigger price. Each leg is retried independently.
func (e *Engine) PlaceTakeProfitAndStopLoss(ctx context.Context, coin string, size, entryPrice float64, isLong bool) (tp, sl models.OrderResult) {
	symbol := e.Symbol(coin)
	tp = models.OrderResult{Kind: models.OrderKindTakeProfit, Symbol: symbol}
	sl = models.OrderResult{Kind: models.OrderKindStopLoss, Symbol: symbol}

	if !(size > 0) || !(entryPrice > 0) {
		err := &ValidationError{Symbol: symbol, Field: "exit", Reason: fmt.Sprintf("size %v and entry %v must be positive", size, entryPrice)}
		tp.Err, sl.Err = err, err
		return tp, sl
	}

	params, err := e.AssetParameters(ctx, coin)
	if err != nil {
		err = e.paramsError(symbol, err)
		tp.Err, sl.Err = err, err
		return tp, sl
	}

	qty := RoundSize(size, params)
	if qty <= 0 {
		err := &ValidationError{Symbol: symbol, Field: "size", Reason: fmt.Sprintf("%v rounds to zero", size)}
		tp.Err, sl.Err = err, err
		return tp, sl
	}

	exitSide := models.OppositeSide(models.SideFor(isLong))
	tpPrice := RoundPrice(CalcTPPrice(entryPrice, e.cfg.TakeProfitPct, isLong), params)
	slPrice := RoundPrice(CalcSLPrice(entryPrice, e.cfg.StopLossPct, isLong), params)

	if tpPrice <= 0 {
		tp.Err = &ValidationError{Symbol: symbol, Field: "take_profit", Reason: fmt.Sprintf("price %v not positive", tpPrice)}
	} else {
		tp = e.submit(ctx, models.Order{
			LinkID:        e.newLinkID(models.OrderKindTakeProfit),
			Symbol:        symbol,
			Side:          exitSide,
			Type:          models.OrderTypeLimit,
			Kind:          models.OrderKindTakeProfit,
			Price:         tpPrice,
			Qty:           qty,
			ReduceOnly:    true,
			TimeInForce:   "GTC",
			SizeDecimals:  params.SizeDecimals,
			PriceDecimals: params.PriceDecimals,
		})
	}

	if slPrice <= 0 {
		sl.Err = &ValidationError{Symbol: symbol, Field: "stop_loss", Reason: fmt.Sprintf("price %v not positive", slPrice)}
	} else {
		sl = e.submit(ctx, models.Order{
			LinkID:        e.newLinkID(models.OrderKindStopLoss),
			Symbol:        symbol,
			Side:          exitSide,
			Type:          models.OrderTypeMarket,
			Kind:          models.OrderKindStopLoss,
			TriggerPrice:  slPrice,
			Qty:           qty,
			ReduceOnly:    true,
			SizeDecimals:  params.SizeDecimals,
			PriceDecimals: params.PriceDecimals,
		})
	}
	return tp, sl
}

type Protection struct {
	TakeProfit models.OrderResult
	StopLoss   models.OrderResult
	Status     models.Protection
	// Err is a *PartialProtectionError unless both legs were placed.
	Err error
}

func (p Protection) TakeProfitPrice() *float64 {
	if !p.TakeProfit.Success {
		return nil
	}
	v := p.TakeProfit.Price
	return &v
}

func (p Protection) StopLossPrice() *float64 {
	if !p.StopLoss.Success {
		return nil
	}
	v := p.StopLoss.Price
	return &v
}

// Protect places both exits and classifies the result.
func (e *Engine) Protect(ctx context.Context, coin string, size, entryPrice float64, isLong bool) Protection {
	tp, sl := e.PlaceTakeProfitAndStopLoss(ctx, coin, size, entryPrice, isLong)
	p := Protection{TakeProfit: tp, StopLoss: sl}

	switch {
	case tp.Success && sl.Success:
		p.Status = models.ProtectionFull
		return p
	case tp.Success || sl.Success:
		p.Status = models.ProtectionPartial
	default:
		p.Status = models.ProtectionNone
	}

	p.Err = &PartialProtectionError{Symbol: e.Symbol(coin), TakeProfitErr: tp.Err, StopLossErr: sl.Err}
	e.metrics.PartialProtection()
	e.logEntry(e.Symbol(coin)).WithError(p.Err).WithFields(map[string]interface{}{
		"protection": p.Status,
		"size":       size,
		"entry":      entryPrice,
		"is_long":    isLong,
	}).Error("Позиция открыта без полной защиты.")
	return p
}

// CancelExits removes leftover exit orders after a position closed. Orders
// already gone count as cancelled.
func (e *Engine) CancelExits(ctx context.Context, coin string, orderIDs ...string) error {
	symbol := e.Symbol(coin)
	var errs []error
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		_, err := e.retry(ctx, "cancel", symbol, func(ctx context.Context) error {
			return e.client.CancelOrder(ctx, symbol, id)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
			continue
		}
		e.log.WithOrderID(id).WithField("symbol", symbol).Debug("Ордер выхода отменён.")
	}
	return errors.Join(errs...)
}
