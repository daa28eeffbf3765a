// Package oracle verifies signed price updates before they are allowed to
// refresh a Cache entry (spec.md §1 treats oracle transports themselves
// as out of scope, but the signature-verification step that gates a
// price update into the cache is in scope as the Cache's input contract).
// Grounded directly on pkg/crypto/signer.go's VerifySignature/
// RecoverAddress: the same Keccak256-then-ECDSA-recover scheme, applied
// to a price payload instead of a transaction payload.
package oracle

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	internalcrypto "github.com/uhyunpark/hyperlicked/pkg/crypto"
)

// ErrUnauthorizedSigner is returned when a price update's signature
// recovers to an address not in the configured authority set.
var ErrUnauthorizedSigner = errors.New("oracle: signature does not recover to an authorized publisher")

// PriceUpdate is one signed price observation for a single market/token index.
type PriceUpdate struct {
	MarketIndex uint32
	PriceScaled int64 // Fix raw value (price * 2^48)
	Timestamp   uint64
	Signature   []byte // 65-byte [R || S || V]
}

// hash returns the Keccak256 digest of the update's canonical encoding,
// mirroring pkg/crypto.Signer.SignMessage's "hash with Keccak256 first".
func (p PriceUpdate) hash() common.Hash {
	buf := make([]byte, 4+8+8)
	binary.LittleEndian.PutUint32(buf[0:4], p.MarketIndex)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(p.PriceScaled))
	binary.LittleEndian.PutUint64(buf[12:20], p.Timestamp)
	return crypto.Keccak256Hash(buf)
}

// Verifier checks PriceUpdates against a fixed set of authorized
// publisher addresses (the "oracle transport" detail spec.md §1 excludes;
// only the authorization check is this package's concern).
type Verifier struct {
	authorized map[common.Address]bool
}

// NewVerifier returns a Verifier trusting exactly the given publishers.
func NewVerifier(publishers ...common.Address) *Verifier {
	v := &Verifier{authorized: make(map[common.Address]bool, len(publishers))}
	for _, p := range publishers {
		v.authorized[p] = true
	}
	return v
}

// Verify checks the update's signature and that it recovers to an
// authorized publisher, returning the recovered address on success.
func (v *Verifier) Verify(p PriceUpdate) (common.Address, error) {
	h := p.hash()
	addr, err := internalcrypto.RecoverAddress(h.Bytes(), p.Signature)
	if err != nil {
		return common.Address{}, err
	}
	if !v.authorized[addr] {
		return common.Address{}, ErrUnauthorizedSigner
	}
	return addr, nil
}
