package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gtrader/internal/exchange"
	"gtrader/internal/models"
)

// retry runs fn with a fresh per-attempt timeout until it succeeds, fails
// with a non-transient error, or MaxAttempts is used up. Exhausted transient
// errors come back as *ExecutionFailure.
func (e *Engine) retry(ctx context.Context, kind models.OrderKind, symbol string, fn func(ctx context.Context) error) (int, error) {
	backoff := e.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if !exchange.IsTransient(err) {
			return attempt, err
		}
		if attempt >= e.cfg.MaxAttempts {
			return attempt, &ExecutionFailure{Kind: kind, Symbol: symbol, Attempts: attempt, Err: err}
		}

		wait := backoff
		if exchange.IsRateLimit(err) {
			wait = backoff * 4
		}
		wait = min(wait, e.cfg.MaxBackoff)

		e.logEntry(symbol).WithError(err).WithFields(map[string]interface{}{
			"kind":    kind,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("Ошибка, повторяем запрос.")
		e.metrics.OrderRetry(string(kind))

		if err := e.sleep(ctx, wait); err != nil {
			return attempt, err
		}
		backoff = min(backoff*2, e.cfg.MaxBackoff)
	}
}

// placeOrderIdempotent submits with a stable link id across retries. A
// duplicate link id means an earlier attempt landed; that order is returned.
func (e *Engine) placeOrderIdempotent(ctx context.Context, order models.Order) (models.Order, int, error) {
	if order.LinkID == "" {
		return models.Order{}, 0, &ValidationError{Symbol: order.Symbol, Field: "link_id", Reason: "empty"}
	}

	e.logEntry(order.Symbol).WithFields(map[string]interface{}{
		"kind":          order.Kind,
		"side":          order.Side,
		"type":          order.Type,
		"qty":           order.Qty,
		"price":         order.Price,
		"trigger_price": order.TriggerPrice,
		"link_id":       order.LinkID,
	}).Info("Попытка ордера.")

	var placed models.Order
	attempts, err := e.retry(ctx, order.Kind, order.Symbol, func(ctx context.Context) error {
		e.metrics.OrderAttempt(string(order.Kind))
		p, err := e.client.PlaceOrder(ctx, order)
		if err == nil {
			placed = p
			return nil
		}
		if !exchange.IsDuplicateLinkID(err) {
			return err
		}
		existing, lookupErr := e.client.GetOrder(ctx, order.Symbol, order.LinkID)
		if lookupErr != nil {
			e.logEntry(order.Symbol).WithError(lookupErr).WithField("link_id", order.LinkID).
				Warn("Не удалось найти ордер после duplicate orderLinkId.")
			return lookupErr
		}
		e.logEntry(order.Symbol).WithField("link_id", order.LinkID).
			Info("Найден существующий ордер по link_id, повтор не нужен.")
		placed = existing
		return nil
	})
	if err != nil {
		return models.Order{}, attempts, err
	}

	if placed.LinkID == "" {
		placed.LinkID = order.LinkID
	}
	if placed.Kind == "" {
		placed.Kind = order.Kind
	}
	return placed, attempts, nil
}

// submit wraps placeOrderIdempotent into an OrderResult and records metrics.
func (e *Engine) submit(ctx context.Context, order models.Order) models.OrderResult {
	res := models.OrderResult{
		Kind:   order.Kind,
		Symbol: order.Symbol,
		LinkID: order.LinkID,
		Size:   order.Qty,
		Price:  orderPrice(order),
	}

	placed, attempts, err := e.placeOrderIdempotent(ctx, order)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		e.metrics.OrderFailed(string(order.Kind), failureClass(err))
		e.logEntry(order.Symbol).WithError(err).WithFields(map[string]interface{}{
			"kind":     order.Kind,
			"attempts": attempts,
			"link_id":  order.LinkID,
		}).Warn("Ордер не размещён.")
		return res
	}

	res.Success = true
	res.OrderID = placed.ID
	e.metrics.OrderPlaced(string(order.Kind))
	e.log.WithOrderID(placed.ID).WithFields(map[string]interface{}{
		"component": "engine",
		"symbol":    order.Symbol,
		"kind":      order.Kind,
		"attempts":  attempts,
	}).Info("Ордер размещён.")
	return res
}

func orderPrice(order models.Order) float64 {
	if order.TriggerPrice > 0 {
		return order.TriggerPrice
	}
	return order.Price
}

func failureClass(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case isExhausted(err):
		return "exhausted"
	default:
		return "permanent"
	}
}

func isExhausted(err error) bool {
	var failure *ExecutionFailure
	return errors.As(err, &failure)
}

var linkPrefixes = map[models.OrderKind]string{
	models.OrderKindEntry:      "en",
	models.OrderKindTakeProfit: "tp",
	models.OrderKindStopLoss:   "sl",
}

// newLinkID stays well under the 36 character orderLinkId limit.
func newLinkID(kind models.OrderKind) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	prefix, ok := linkPrefixes[kind]
	if !ok {
		prefix = "gt"
	}
	return fmt.Sprintf("gt-%s-%s", prefix, raw[:24])
}

func elapsedSince(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
