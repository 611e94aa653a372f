package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

// PlaceEntry opens a position worth roughly notional at currentPrice with a
// market IOC order and waits for the fill. Exactly one logical order is sent;
// retries reuse its link id.
func (e *Engine) PlaceEntry(ctx context.Context, coin string, isLong bool, notional, currentPrice float64) models.OrderResult {
	symbol := e.Symbol(coin)
	res := models.OrderResult{Kind: models.OrderKindEntry, Symbol: symbol, Price: currentPrice}

	if !(notional > 0) || math.IsInf(notional, 0) {
		res.Err = &ValidationError{Symbol: symbol, Field: "notional", Reason: fmt.Sprintf("must be positive, got %v", notional)}
		return res
	}
	if !(currentPrice > 0) || math.IsInf(currentPrice, 0) {
		res.Err = &ValidationError{Symbol: symbol, Field: "price", Reason: fmt.Sprintf("must be positive, got %v", currentPrice)}
		return res
	}

	params, err := e.AssetParameters(ctx, coin)
	if err != nil {
		res.Err = e.paramsError(symbol, err)
		return res
	}

	size := RoundSize(notional/currentPrice, params)
	res.Size = size
	if size <= 0 || size < params.MinOrderQty {
		res.Err = &ValidationError{Symbol: symbol, Field: "size",
			Reason: fmt.Sprintf("%v below minimum order qty %v", size, params.MinOrderQty)}
		e.metrics.OrderFailed(string(models.OrderKindEntry), "validation")
		return res
	}
	if params.MinNotional > 0 && size*currentPrice < params.MinNotional {
		res.Err = &ValidationError{Symbol: symbol, Field: "notional",
			Reason: fmt.Sprintf("%.2f below minimum notional %.2f", size*currentPrice, params.MinNotional)}
		e.metrics.OrderFailed(string(models.OrderKindEntry), "validation")
		return res
	}

	order := models.Order{
		LinkID:        e.newLinkID(models.OrderKindEntry),
		Symbol:        symbol,
		Side:          models.SideFor(isLong),
		Type:          models.OrderTypeMarket,
		Kind:          models.OrderKindEntry,
		Qty:           size,
		TimeInForce:   "IOC",
		SizeDecimals:  params.SizeDecimals,
		PriceDecimals: params.PriceDecimals,
	}

	start := time.Now()
	res = e.submit(ctx, order)
	res.Price = currentPrice
	if !res.Success {
		return res
	}

	filled, err := e.awaitFill(ctx, order)
	if err != nil {
		res.Success = false
		res.Err = err
		res.Unconfirmed = !filled.IsFinal()
		e.metrics.OrderFailed(string(models.OrderKindEntry), "unfilled")
		e.logEntry(symbol).WithError(err).WithFields(map[string]interface{}{
			"link_id":     order.LinkID,
			"unconfirmed": res.Unconfirmed,
		}).Error("Вход не подтверждён.")
		return res
	}

	res.FilledSize = filled.FilledQty
	res.AvgPrice = filled.AvgPrice
	if res.AvgPrice <= 0 {
		res.AvgPrice = currentPrice
	}
	e.logEntry(symbol).WithFields(map[string]interface{}{
		"order_id":  res.OrderID,
		"filled":    res.FilledSize,
		"avg_price": res.AvgPrice,
		"took":      elapsedSince(start),
	}).Info("Вход исполнен.")
	return res
}

// awaitFill polls the order by link id until it reaches a final state or
// FillTimeout passes. A final state with nothing filled is an error.
func (e *Engine) awaitFill(ctx context.Context, order models.Order) (models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout)
	defer cancel()

	var lastErr error
	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		current, err := e.client.GetOrder(attemptCtx, order.Symbol, order.LinkID)
		attemptCancel()

		switch {
		case err == nil && current.FilledQty > 0 && (current.IsFinal() || current.FilledQty >= order.Qty):
			return current, nil
		case err == nil && current.IsFinal():
			return current, &ExecutionFailure{Kind: order.Kind, Symbol: order.Symbol, Attempts: 1,
				Err: fmt.Errorf("order %s ended %s without a fill", order.LinkID, current.Status)}
		case err != nil && !exchange.IsTransient(err) && !errors.Is(err, exchange.ErrOrderNotFound):
			return models.Order{}, err
		case err != nil:
			lastErr = err
		}

		if err := e.sleep(ctx, e.cfg.FillPoll); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return models.Order{}, &ExecutionFailure{Kind: order.Kind, Symbol: order.Symbol, Attempts: 1,
				Err: fmt.Errorf("fill of %s not confirmed within %s: %w", order.LinkID, e.cfg.FillTimeout, lastErr)}
		}
	}
}

func (e *Engine) paramsError(symbol string, err error) error {
	if errors.Is(err, exchange.ErrUnknownSymbol) {
		return &ValidationError{Symbol: symbol, Field: "asset", Reason: err.Error()}
	}
	return err
}
