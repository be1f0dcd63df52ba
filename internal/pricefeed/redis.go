package pricefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFeed reads quotes the ingestion pipeline writes as integer strings
// under "price:{stockCode}".
type RedisFeed struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisFeed creates a feed backed by rdb. An empty prefix defaults to
// "price:".
func NewRedisFeed(rdb *redis.Client, prefix string) *RedisFeed {
	if prefix == "" {
		prefix = "price:"
	}
	return &RedisFeed{rdb: rdb, prefix: prefix}
}

func (f *RedisFeed) LatestPrice(ctx context.Context, stockCode string) (int64, bool, error) {
	p, err := f.rdb.Get(ctx, f.prefix+stockCode).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest price %s: %w", stockCode, err)
	}
	return p, true, nil
}

// Publish writes a quote. Used by tooling and tests; the production writer
// is the ingestion pipeline.
func (f *RedisFeed) Publish(ctx context.Context, stockCode string, price int64) error {
	return f.rdb.Set(ctx, f.prefix+stockCode, price, 0).Err()
}
