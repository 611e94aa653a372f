package ws

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gtrader/internal/models"
)

type tickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

func (w *Client) handleTicker(msg Message) {
	var item tickerData
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		w.log.WithError(err).Warn("Не удалось разобрать ticker.")
		return
	}

	// Deltas omit fields that did not change.
	if item.LastPrice == "" {
		return
	}
	price, err := strconv.ParseFloat(item.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	if item.Symbol == "" {
		item.Symbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}

	tick := models.Ticker{
		Symbol:    item.Symbol,
		LastPrice: price,
		Timestamp: time.UnixMilli(msg.TS).UTC(),
		Sequence:  msg.TS,
	}

	select {
	case w.tickers <- tick:
	default:
		w.log.WithField("symbol", tick.Symbol).Debug("Очередь тикеров заполнена, обновление пропущено.")
	}
}
