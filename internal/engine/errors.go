package engine

import (
	"errors"
	"fmt"
	"strings"

	"gtrader/internal/models"
)

// ValidationError rejects an order before anything is sent.
type ValidationError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order for %s: %s: %s", e.Symbol, e.Field, e.Reason)
}

// ExecutionFailure is a transient error that outlived every retry.
type ExecutionFailure struct {
	Kind     models.OrderKind
	Symbol   string
	Attempts int
	Err      error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("%s order for %s failed after %d attempts: %v", e.Kind, e.Symbol, e.Attempts, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}

// PartialProtectionError means a filled entry is missing one or both exits.
type PartialProtectionError struct {
	Symbol        string
	TakeProfitErr error
	StopLossErr   error
}

func (e *PartialProtectionError) Error() string {
	var missing []string
	if e.TakeProfitErr != nil {
		missing = append(missing, fmt.Sprintf("take-profit: %v", e.TakeProfitErr))
	}
	if e.StopLossErr != nil {
		missing = append(missing, fmt.Sprintf("stop-loss: %v", e.StopLossErr))
	}
	return fmt.Sprintf("position %s is not fully protected (%s)", e.Symbol, strings.Join(missing, "; "))
}

func (e *PartialProtectionError) Unwrap() []error {
	var errs []error
	if e.TakeProfitErr != nil {
		errs = append(errs, e.TakeProfitErr)
	}
	if e.StopLossErr != nil {
		errs = append(errs, e.StopLossErr)
	}
	return errs
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
