package ws

import (
	"strings"

	"github.com/gorilla/websocket"
)

func TickerTopics(symbols []string) []string {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		topics = append(topics, "tickers."+s)
	}
	return topics
}

func (w *Client) subscribe(conn *websocket.Conn) error {
	return w.writeJSON(conn, SubscribeMessage{
		Op:   "subscribe",
		Args: w.topics,
	})
}

func (w *Client) ping(conn *websocket.Conn) error {
	return w.writeJSON(conn, SubscribeMessage{Op: "ping"})
}

func (w *Client) writeJSON(conn *websocket.Conn, v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteJSON(v)
}
