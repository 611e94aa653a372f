package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &APIError{Code: 10006, Msg: "Too many visits!"}, true},
		{"server timeout", &APIError{Code: 10000}, true},
		{"http 502", &APIError{HTTPStatus: 502, Msg: "Bad Gateway"}, true},
		{"http 429", &APIError{HTTPStatus: 429}, true},
		{"http 400", &APIError{HTTPStatus: 400}, false},
		{"params error", &APIError{Code: 10001, Msg: "params error"}, false},
		{"insufficient balance", &APIError{Code: 110007, Msg: "ab not enough for new order"}, false},
		{"unknown code", &APIError{Code: 123456, Msg: "insufficient liquidity"}, false},
		{"auth", &APIError{Code: 10003}, false},
		{"wrapped rate limit", fmt.Errorf("place order: %w", &APIError{Code: 10006}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"url error", &url.Error{Op: "Post", URL: "https://api.bybit.com", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, true},
		{"canceled inside url error", &url.Error{Op: "Post", URL: "x", Err: context.Canceled}, false},
		{"transport", &TransportError{Op: "read body", Err: errors.New("unexpected EOF")}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsRateLimit(&APIError{Code: 10006}))
	assert.True(t, IsRateLimit(fmt.Errorf("x: %w", &APIError{HTTPStatus: 429})))
	assert.False(t, IsRateLimit(&APIError{Code: 10001}))

	assert.True(t, IsAuth(&APIError{Code: 10003}))
	assert.True(t, IsAuth(&APIError{HTTPStatus: 401}))
	assert.False(t, IsAuth(errors.New("10003")))

	assert.True(t, IsDuplicateLinkID(&APIError{Code: 110072}))
	assert.True(t, IsDuplicateLinkID(&APIError{Code: 1, Msg: "Duplicate clientOrderId"}))
	assert.True(t, IsOrderNotExist(&APIError{Code: 110001}))
}

func TestAPIErrorMessage(t *testing.T) {
	assert.Contains(t, (&APIError{Code: 10001, Msg: "params error"}).Error(), "code=10001")
	assert.Contains(t, (&APIError{HTTPStatus: 503, Msg: "Service Unavailable"}).Error(), "503")
}
