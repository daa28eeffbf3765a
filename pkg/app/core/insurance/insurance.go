// Package insurance implements the per-group insurance vault that absorbs
// the first loss in a bankruptcy resolution before any socialization
// happens (spec.md §4.6: "pay the liab from the insurance vault up to
// available; any remainder is socialized"). Grounded on the teacher's
// small balance-holder structs in pkg/app/core/account.go, generalized
// from a single-token balance to a per-token map.
package insurance

import (
	"sync"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

// Vault holds native-unit balances per token index, available to cover
// bankrupt accounts' shortfalls.
type Vault struct {
	mu       sync.Mutex
	balances map[int]fixedpoint.Fix
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[int]fixedpoint.Fix)}
}

// Balance returns the current native balance for a token.
func (v *Vault) Balance(tokenIdx int) fixedpoint.Fix {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[tokenIdx]
}

// Credit adds to the vault's balance for a token (fees, donations, admin top-ups).
func (v *Vault) Credit(tokenIdx int, amount fixedpoint.Fix) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	sum, err := v.balances[tokenIdx].Add(amount)
	if err != nil {
		return err
	}
	v.balances[tokenIdx] = sum
	return nil
}

// PayOut pays up to requested from the vault's balance for tokenIdx,
// returning the amount actually paid (capped by availability) — the
// vault never goes negative, so the caller must treat any shortfall as
// the remainder to be socialized (spec.md §4.6).
func (v *Vault) PayOut(tokenIdx int, requested fixedpoint.Fix) (fixedpoint.Fix, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	available := v.balances[tokenIdx]
	paid := fixedpoint.Min(available, requested)
	remaining, err := available.Sub(paid)
	if err != nil {
		return fixedpoint.Zero, err
	}
	v.balances[tokenIdx] = remaining
	return paid, nil
}
