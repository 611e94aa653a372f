package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"gtrader/internal/logger"
	"gtrader/internal/models"
)

// New returns a public ticker stream client. Nothing is dialed until Run.
func New(url string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		url:          url,
		log:          log.WithComponent("bybit_ws"),
		dialer:       websocket.DefaultDialer,
		tickers:      make(chan models.Ticker, 256),
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		pingInterval: 20 * time.Second,
	}
}

// Tickers delivers last-price updates. Updates are dropped while the channel
// is full.
func (w *Client) Tickers() <-chan models.Ticker {
	return w.tickers
}

func (w *Client) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run keeps a subscription to the symbols' ticker topics alive until ctx is
// done or Close is called, reconnecting with exponential backoff.
func (w *Client) Run(ctx context.Context, symbols []string) error {
	w.topics = TickerTopics(symbols)
	if len(w.topics) == 0 {
		return fmt.Errorf("Нет символов для подписки")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := w.reconnectMin
	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			w.log.Info("WS поток остановлен.")
			return nil
		}
		if connected {
			backoff = w.reconnectMin
		}
		w.log.WithError(err).WithField("backoff", backoff.String()).Warn("WS соединение потеряно, переподключение.")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = w.nextBackoff(backoff)
	}
}

func (w *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	w.log.WithField("url", w.url).Info("Подключение к WS.")

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}
	conn.SetReadLimit(2 << 20)
	return conn, nil
}

func (w *Client) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}
