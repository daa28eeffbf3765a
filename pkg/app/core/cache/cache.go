// Package cache implements the freshness-gated snapshot of oracle prices,
// lending indices, and per-market funding indices (spec.md §3 Cache),
// grounded on the teacher's pkg/app/core/market/registry.go: a
// sync.RWMutex-guarded map keyed by a small integer/string index, read
// far more often than written.
package cache

import (
	"errors"
	"sync"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

// ErrStale is returned by any Get when now_ts exceeds the entry's
// validity window (spec.md §5: "A stale cache causes value-dependent
// operations to fail rather than use stale values").
var ErrStale = errors.New("cache: entry is stale")

// ErrNotFound is returned when no entry exists for the requested key.
var ErrNotFound = errors.New("cache: entry not found")

// PriceEntry is one market's last-refreshed oracle price.
type PriceEntry struct {
	Price      fixedpoint.Fix
	LastUpdate uint64
}

// RootBankEntry mirrors a LendingBank's accrual indices at last refresh.
type RootBankEntry struct {
	DepositIndex fixedpoint.Fix
	BorrowIndex  fixedpoint.Fix
	LastUpdate   uint64
}

// PerpMarketEntry mirrors a PerpMarket's funding indices at last refresh.
type PerpMarketEntry struct {
	LongFunding  fixedpoint.Fix
	ShortFunding fixedpoint.Fix
	LastUpdate   uint64
}

// Cache is the per-group snapshot, keyed by market/token index (spec.md
// §3: "price[M], root_bank{...}[T], perp_market{...}[M]").
type Cache struct {
	mu           sync.RWMutex
	validInterval uint64
	prices       map[int]PriceEntry
	rootBanks    map[int]RootBankEntry
	perpMarkets  map[int]PerpMarketEntry
}

// New returns an empty cache with the group-configured validity window.
func New(validInterval uint64) *Cache {
	return &Cache{
		validInterval: validInterval,
		prices:        make(map[int]PriceEntry),
		rootBanks:     make(map[int]RootBankEntry),
		perpMarkets:   make(map[int]PerpMarketEntry),
	}
}

// SetPrice refreshes the price snapshot for market/token index idx.
func (c *Cache) SetPrice(idx int, price fixedpoint.Fix, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[idx] = PriceEntry{Price: price, LastUpdate: now}
}

// SetRootBank refreshes the lending-index snapshot for token index idx.
func (c *Cache) SetRootBank(idx int, depositIndex, borrowIndex fixedpoint.Fix, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rootBanks[idx] = RootBankEntry{DepositIndex: depositIndex, BorrowIndex: borrowIndex, LastUpdate: now}
}

// SetPerpMarket refreshes the funding-index snapshot for market index idx.
func (c *Cache) SetPerpMarket(idx int, longFunding, shortFunding fixedpoint.Fix, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perpMarkets[idx] = PerpMarketEntry{LongFunding: longFunding, ShortFunding: shortFunding, LastUpdate: now}
}

func (c *Cache) fresh(lastUpdate, now uint64) bool {
	return now <= lastUpdate+c.validInterval
}

// Price returns the cached price for idx if present and fresh as of now
// (spec.md §5: "every value read from the cache is guarded by now_ts <=
// cache_entry.last_update + valid_interval").
func (c *Cache) Price(idx int, now uint64) (fixedpoint.Fix, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[idx]
	if !ok {
		return fixedpoint.Zero, ErrNotFound
	}
	if !c.fresh(e.LastUpdate, now) {
		return fixedpoint.Zero, ErrStale
	}
	return e.Price, nil
}

// RootBank returns the cached lending indices for idx if fresh.
func (c *Cache) RootBank(idx int, now uint64) (RootBankEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.rootBanks[idx]
	if !ok {
		return RootBankEntry{}, ErrNotFound
	}
	if !c.fresh(e.LastUpdate, now) {
		return RootBankEntry{}, ErrStale
	}
	return e, nil
}

// PerpMarket returns the cached funding indices for idx if fresh.
func (c *Cache) PerpMarket(idx int, now uint64) (PerpMarketEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.perpMarkets[idx]
	if !ok {
		return PerpMarketEntry{}, ErrNotFound
	}
	if !c.fresh(e.LastUpdate, now) {
		return PerpMarketEntry{}, ErrStale
	}
	return e, nil
}
