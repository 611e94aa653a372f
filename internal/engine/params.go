package engine

import (
	"context"
	"sync"

	"gtrader/internal/exchange"
	"gtrader/internal/logger"
)

type ParamsSource interface {
	GetAssetParameters(ctx context.Context, symbol string) (exchange.AssetParameters, error)
}

// ParamsStore is an optional shared cache behind the in-process map.
type ParamsStore interface {
	Get(ctx context.Context, symbol string) (exchange.AssetParameters, bool, error)
	Put(ctx context.Context, params exchange.AssetParameters) error
}

// ParamsCache looks in memory, then the store, then the exchange.
// Parameters are fetched once per process per symbol.
type ParamsCache struct {
	source ParamsSource
	store  ParamsStore
	log    *logger.Logger

	mu     sync.RWMutex
	memory map[string]exchange.AssetParameters
}

func NewParamsCache(source ParamsSource, store ParamsStore, log *logger.Logger) *ParamsCache {
	if log == nil {
		log = logger.Discard()
	}
	return &ParamsCache{
		source: source,
		store:  store,
		log:    log,
		memory: map[string]exchange.AssetParameters{},
	}
}

func (c *ParamsCache) Get(ctx context.Context, symbol string) (exchange.AssetParameters, error) {
	c.mu.RLock()
	params, ok := c.memory[symbol]
	c.mu.RUnlock()
	if ok {
		return params, nil
	}

	entry := c.log.WithComponent("params_cache").WithField("symbol", symbol)

	if c.store != nil {
		cached, found, err := c.store.Get(ctx, symbol)
		switch {
		case err != nil:
			entry.WithError(err).Warn("Не удалось прочитать параметры из Redis.")
		case found:
			c.remember(cached)
			return cached, nil
		}
	}

	params, err := c.source.GetAssetParameters(ctx, symbol)
	if err != nil {
		return exchange.AssetParameters{}, err
	}
	if params.Symbol == "" {
		params.Symbol = symbol
	}
	c.remember(params)
	entry.WithField("params", params).Info("Получены ограничения торговой пары.")

	if c.store != nil {
		if err := c.store.Put(ctx, params); err != nil {
			entry.WithError(err).Warn("Не удалось сохранить параметры в Redis.")
		}
	}
	return params, nil
}

func (c *ParamsCache) remember(params exchange.AssetParameters) {
	c.mu.Lock()
	c.memory[params.Symbol] = params
	c.mu.Unlock()
}
