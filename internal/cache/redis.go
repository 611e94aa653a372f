package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gtrader/internal/exchange"
)

const keyPrefix = "gtrader:asset:"

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ParamsStore keeps instrument reference data in Redis so restarts skip the
// instruments-info round trip.
type ParamsStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(ctx context.Context, opts Options) (*ParamsStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return NewParamsStore(client, opts.TTL), nil
}

func NewParamsStore(client *redis.Client, ttl time.Duration) *ParamsStore {
	return &ParamsStore{client: client, ttl: ttl}
}

// Get returns ok=false on a cache miss.
func (s *ParamsStore) Get(ctx context.Context, symbol string) (exchange.AssetParameters, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return exchange.AssetParameters{}, false, nil
	}
	if err != nil {
		return exchange.AssetParameters{}, false, err
	}

	var params exchange.AssetParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return exchange.AssetParameters{}, false, fmt.Errorf("decode cached params for %s: %w", symbol, err)
	}
	return params, true, nil
}

func (s *ParamsStore) Put(ctx context.Context, params exchange.AssetParameters) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+params.Symbol, raw, s.ttl).Err()
}

func (s *ParamsStore) Close() error {
	return s.client.Close()
}
