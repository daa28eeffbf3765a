package group

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpbook"
)

// MarketRegistry holds the live perpbook.Market for every configured perp
// market index, adapting pkg/app/core/market/registry.go's
// register/lookup/list shape to the new engine's int-indexed markets
// instead of the legacy registry's symbol-keyed spot markets.
type MarketRegistry struct {
	mu      sync.RWMutex
	markets map[int]*perpbook.Market
}

// NewMarketRegistry returns an empty registry.
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{markets: make(map[int]*perpbook.Market)}
}

// Register adds a market under the given index. Returns an error if the
// index is already registered.
func (r *MarketRegistry) Register(marketIndex int, m *perpbook.Market) error {
	if m == nil {
		return fmt.Errorf("group: cannot register nil market")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[marketIndex]; exists {
		return fmt.Errorf("group: market index %d already registered", marketIndex)
	}
	r.markets[marketIndex] = m
	return nil
}

// Get retrieves a market by index.
func (r *MarketRegistry) Get(marketIndex int) (*perpbook.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.markets[marketIndex]
	if !exists {
		return nil, fmt.Errorf("group: market index %d not found", marketIndex)
	}
	return m, nil
}

// List returns every registered (index, market) pair.
func (r *MarketRegistry) List() map[int]*perpbook.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]*perpbook.Market, len(r.markets))
	for idx, m := range r.markets {
		out[idx] = m
	}
	return out
}
