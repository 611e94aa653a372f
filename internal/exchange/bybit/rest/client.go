package rest

import (
	"net/http"
	"time"

	"gtrader/internal/logger"
)

type Options struct {
	BaseURL     string
	ApiKey      string
	Secret      string
	Category    string
	AccountType string
	RecvWindow  int
	Timeout     time.Duration
}

func New(opts Options, log *logger.Logger) *Client {
	if opts.Category == "" {
		opts.Category = defaultCategory
	}
	if opts.AccountType == "" {
		opts.AccountType = "UNIFIED"
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:     opts.BaseURL,
		category:    opts.Category,
		accountType: opts.AccountType,
		recvWindow:  itoa(opts.RecvWindow),
		apiKey:      opts.ApiKey,
		secret:      opts.Secret,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		log: log.WithComponent("bybit_rest"),
		now: func() int64 { return time.Now().UnixMilli() },
	}
}
