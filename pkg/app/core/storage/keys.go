package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes, adapted from pkg/app/core/account/keys.go's prefix scheme
// to the new engine's three snapshot kinds instead of account/position/
// order/trade.
const (
	prefixMargin  = "margin:"  // MarginAccount snapshot, keyed by owner address
	prefixPerp    = "perp:"    // PerpAccount snapshot, keyed by owner:marketIndex
	prefixLending = "lending:" // LendingBank snapshot, keyed by tokenIndex
)

func marginKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMargin, owner.Hex()))
}

func marginPrefix() []byte {
	return []byte(prefixMargin)
}

func perpKey(owner common.Address, marketIndex int) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixPerp, owner.Hex(), marketIndex))
}

func perpPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixPerp, owner.Hex()))
}

func lendingKey(tokenIndex int) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixLending, tokenIndex))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan,
// identical in spirit to account/keys.go's keyUpperBound.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
