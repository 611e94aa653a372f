package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"gtrader/internal/models"
)

type Client struct {
	url          string
	log          *logrus.Entry
	dialer       *websocket.Dialer
	tickers      chan models.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	writeMu      sync.Mutex
	topics       []string
	reconnectMin time.Duration
	reconnectMax time.Duration
	pingInterval time.Duration
}

type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

type SubscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}
