package crypto

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// AgentDelegation lets a wallet authorize a short-lived agent key to sign
// orders on its behalf, so a trading bot can hold the agent's private key
// without ever touching the wallet's.
type AgentDelegation struct {
	Wallet    common.Address // the account being traded on behalf of
	Agent     common.Address // the delegated signing key's address
	Nonce     *big.Int       // replay protection for the delegation itself
	ExpiresAt *big.Int       // Unix seconds after which the delegation is void
}

// AgentSigner hashes and verifies AgentDelegation typed data under the same
// domain as EIP712Signer.
type AgentSigner struct {
	domain EIP712Domain
}

// NewAgentSigner creates a new agent-delegation signer for the given domain.
func NewAgentSigner(domain EIP712Domain) *AgentSigner {
	return &AgentSigner{domain: domain}
}

// HashDelegation hashes a delegation according to EIP-712, returning the
// digest the wallet signs to authorize the agent key.
func (a *AgentSigner) HashDelegation(delegation *AgentDelegation) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"AgentDelegation": []apitypes.Type{
				{Name: "wallet", Type: "address"},
				{Name: "agent", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "expiresAt", Type: "uint256"},
			},
		},
		PrimaryType: "AgentDelegation",
		Domain: apitypes.TypedDataDomain{
			Name:              a.domain.Name,
			Version:           a.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(a.domain.ChainID),
			VerifyingContract: a.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"wallet":    delegation.Wallet.Hex(),
			"agent":     delegation.Agent.Hex(),
			"nonce":     delegation.Nonce.String(),
			"expiresAt": delegation.ExpiresAt.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// VerifyDelegationSignature checks that a delegation was signed by the
// wallet it claims to authorize on behalf of.
func (a *AgentSigner) VerifyDelegationSignature(delegation *AgentDelegation, signature []byte) (bool, error) {
	hash, err := a.HashDelegation(delegation)
	if err != nil {
		return false, fmt.Errorf("failed to hash delegation: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == delegation.Wallet, nil
}

// IsExpired reports whether a delegation's validity window has passed.
func (d *AgentDelegation) IsExpired(now time.Time) bool {
	if d.ExpiresAt == nil || d.ExpiresAt.Sign() == 0 {
		return false
	}
	return now.Unix() >= d.ExpiresAt.Int64()
}

// VerifyAgentOrder verifies an order signed by an agent key: the delegation
// itself must have been signed by the wallet, must not be expired, and the
// order's signature must recover to the delegated agent address (not the
// wallet).
func VerifyAgentOrder(
	order *OrderEIP712,
	agentSignature []byte,
	delegation *AgentDelegation,
	delegationSignature []byte,
	eip712Signer *EIP712Signer,
	agentSigner *AgentSigner,
) (bool, error) {
	if delegation.IsExpired(time.Now()) {
		return false, fmt.Errorf("delegation expired")
	}

	delegationValid, err := agentSigner.VerifyDelegationSignature(delegation, delegationSignature)
	if err != nil {
		return false, fmt.Errorf("delegation signature invalid: %w", err)
	}
	if !delegationValid {
		return false, fmt.Errorf("delegation not signed by wallet")
	}

	if order.Owner != delegation.Wallet {
		return false, fmt.Errorf("order owner does not match delegation wallet")
	}

	hash, err := eip712Signer.HashOrder(order)
	if err != nil {
		return false, fmt.Errorf("failed to hash order: %w", err)
	}
	recoveredAgent, err := RecoverAddress(hash, agentSignature)
	if err != nil {
		return false, fmt.Errorf("failed to recover agent address: %w", err)
	}
	if recoveredAgent != delegation.Agent {
		return false, fmt.Errorf("order not signed by delegated agent")
	}

	return true, nil
}
