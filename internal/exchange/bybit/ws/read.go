package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// session runs one connection until it fails. connected reports whether the
// subscription was sent.
func (w *Client) session(ctx context.Context) (connected bool, err error) {
	conn, err := w.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := w.subscribe(conn); err != nil {
		return false, err
	}
	w.log.WithField("topics", strings.Join(w.topics, ",")).Info("WS соединение установлено.")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := w.ping(conn); err != nil {
					w.log.WithError(err).Debug("Не удалось отправить ping.")
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.log.WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}

		switch {
		case strings.HasPrefix(msg.Topic, "tickers."):
			w.handleTicker(msg)
		case msg.Op == "subscribe" && msg.Success != nil && !*msg.Success:
			w.log.WithField("ret_msg", msg.RetMsg).Error("Подписка WS отклонена.")
		}
	}
}
