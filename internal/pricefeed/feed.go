// Package pricefeed exposes the latest observed quote per stock code. The
// feed is written asynchronously by the market-data pipeline; the execution
// engine only reads it.
package pricefeed

import (
	"context"
	"sync"
)

// Feed returns the latest quote for a stock code. ok is false when no quote
// has been observed.
type Feed interface {
	LatestPrice(ctx context.Context, stockCode string) (price int64, ok bool, err error)
}

// MemoryFeed is an in-process Feed. Used for testing and development.
type MemoryFeed struct {
	mu     sync.RWMutex
	prices map[string]int64
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{prices: make(map[string]int64)}
}

// Set records a new quote.
func (f *MemoryFeed) Set(stockCode string, price int64) {
	f.mu.Lock()
	f.prices[stockCode] = price
	f.mu.Unlock()
}

// Clear removes the quote for a stock code.
func (f *MemoryFeed) Clear(stockCode string) {
	f.mu.Lock()
	delete(f.prices, stockCode)
	f.mu.Unlock()
}

func (f *MemoryFeed) LatestPrice(_ context.Context, stockCode string) (int64, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[stockCode]
	return p, ok, nil
}
