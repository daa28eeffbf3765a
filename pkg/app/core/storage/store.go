// Package storage persists MarginAccount, PerpAccount, and LendingBank
// snapshots to Pebble, adapting pkg/app/core/account/store.go's
// marshal-to-JSON-then-Set/Get pattern and Options tuning to the new
// engine's three snapshot kinds instead of the legacy flat account/
// position/order/trade blobs.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/lending"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
)

// Store provides Pebble-based persistence for engine account/bank state.
// Safe for concurrent use by multiple goroutines (Pebble itself is
// concurrency-safe; callers still need their own lock around read-modify-
// write sequences on the decoded Go values).
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path, using the same
// cache/memtable/compaction tuning as account/store.go's NewStore.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20),
		MemTableSize:                64 << 20,
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMarginAccount persists a MarginAccount snapshot.
func (s *Store) SaveMarginAccount(acc *margin.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal margin account: %w", err)
	}
	if err := s.db.Set(marginKey(acc.Owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: failed to save margin account: %w", err)
	}
	return nil
}

// LoadMarginAccount loads a MarginAccount snapshot. Returns nil if absent.
func (s *Store) LoadMarginAccount(owner common.Address) (*margin.Account, error) {
	data, closer, err := s.db.Get(marginKey(owner))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get margin account: %w", err)
	}
	defer closer.Close()

	var acc margin.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("storage: failed to unmarshal margin account: %w", err)
	}
	return &acc, nil
}

// LoadAllMarginAccounts loads every persisted MarginAccount.
func (s *Store) LoadAllMarginAccounts() ([]*margin.Account, error) {
	prefix := marginPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to iterate margin accounts: %w", err)
	}
	defer iter.Close()

	var accs []*margin.Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acc margin.Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			continue
		}
		accs = append(accs, &acc)
	}
	return accs, nil
}

// SavePerpAccount persists one owner's PerpAccount for a single market.
func (s *Store) SavePerpAccount(owner common.Address, marketIndex int, pa *perpaccount.Account) error {
	data, err := json.Marshal(pa)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal perp account: %w", err)
	}
	if err := s.db.Set(perpKey(owner, marketIndex), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: failed to save perp account: %w", err)
	}
	return nil
}

// LoadPerpAccount loads one owner's PerpAccount for a market. Returns nil
// if absent.
func (s *Store) LoadPerpAccount(owner common.Address, marketIndex int) (*perpaccount.Account, error) {
	data, closer, err := s.db.Get(perpKey(owner, marketIndex))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get perp account: %w", err)
	}
	defer closer.Close()

	var pa perpaccount.Account
	if err := json.Unmarshal(data, &pa); err != nil {
		return nil, fmt.Errorf("storage: failed to unmarshal perp account: %w", err)
	}
	return &pa, nil
}

// LoadAllPerpAccounts loads every market's PerpAccount for one owner,
// keyed by market index.
func (s *Store) LoadAllPerpAccounts(owner common.Address) (map[int]*perpaccount.Account, error) {
	prefix := perpPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to iterate perp accounts: %w", err)
	}
	defer iter.Close()

	out := make(map[int]*perpaccount.Account)
	for iter.First(); iter.Valid(); iter.Next() {
		marketIndex, err := strconv.Atoi(string(iter.Key()[len(prefix):]))
		if err != nil {
			continue
		}
		var pa perpaccount.Account
		if err := json.Unmarshal(iter.Value(), &pa); err != nil {
			continue
		}
		out[marketIndex] = &pa
	}
	return out, nil
}

// SaveLendingBank persists one token's LendingBank snapshot.
func (s *Store) SaveLendingBank(tokenIndex int, bank *lending.Bank) error {
	data, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal lending bank: %w", err)
	}
	if err := s.db.Set(lendingKey(tokenIndex), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: failed to save lending bank: %w", err)
	}
	return nil
}

// LoadLendingBank loads a token's LendingBank snapshot. Returns nil if absent.
func (s *Store) LoadLendingBank(tokenIndex int) (*lending.Bank, error) {
	data, closer, err := s.db.Get(lendingKey(tokenIndex))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get lending bank: %w", err)
	}
	defer closer.Close()

	var bank lending.Bank
	if err := json.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("storage: failed to unmarshal lending bank: %w", err)
	}
	return &bank, nil
}
