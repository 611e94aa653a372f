package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is a non-zero retCode or a failed HTTP status from the exchange.
type APIError struct {
	Code       int
	Msg        string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("Ошибка bybit: %s (code=%d)", e.Msg, e.Code)
	}
	return fmt.Sprintf("Неуспешный статус: %d %s", e.HTTPStatus, e.Msg)
}

var (
	transientCodes = map[int]bool{
		10000:  true, // server timeout
		10002:  true, // request time outside recv window
		10006:  true, // too many visits
		10016:  true, // internal server error
		10019:  true, // service restarting
		10429:  true, // system-level rate limit
		170007: true, // backend timeout
	}
	rateLimitCodes = map[int]bool{
		10006: true,
		10018: true,
		10429: true,
	}
	authCodes = map[int]bool{
		10003: true, // invalid api key
		10004: true, // bad signature
		10005: true, // permission denied
		10007: true, // unmatched user authentication
		10009: true, // ip banned
		10010: true, // unmatched ip
		33004: true, // api key expired
	}
	duplicateCodes = map[int]bool{
		110072: true, // OrderLinkedID is duplicate
		10014:  true,
	}
	orderNotExistCodes = map[int]bool{
		110001: true,
		170213: true,
	}
)

// IsTransient reports whether retrying the same request can succeed. Unknown
// exchange codes are treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != 0 {
			return transientCodes[apiErr.Code] || rateLimitCodes[apiErr.Code]
		}
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var transport *TransportError
	return errors.As(err, &transport)
}

func IsRateLimit(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return rateLimitCodes[apiErr.Code] || apiErr.HTTPStatus == 429
	}
	return false
}

func IsAuth(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return authCodes[apiErr.Code] || apiErr.HTTPStatus == 401 || apiErr.HTTPStatus == 403
	}
	return false
}

func IsDuplicateLinkID(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return duplicateCodes[apiErr.Code] || strings.Contains(strings.ToLower(apiErr.Msg), "duplicate")
	}
	return false
}

func IsOrderNotExist(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return orderNotExistCodes[apiErr.Code] || strings.Contains(apiErr.Msg, "order not exists")
	}
	return false
}

// TransportError wraps failures below the API layer: dial, TLS, reading the body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var (
	ErrOrderNotFound = errors.New("ордер не найден")
	ErrUnknownSymbol = errors.New("торговая пара не найдена")
)
