package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs ledger transactions for a single chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	txSigner   types.Signer
}

// NewSigner creates a Signer for chainID (84532 for Base Sepolia, 8453 for
// Base mainnet).
func NewSigner(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	id := big.NewInt(chainID)
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		txSigner:   types.LatestSignerForChainID(id),
	}
}

// Address returns the account the signer sends from.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer targets.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the signer's chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.txSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// OutcomeHash is keccak256(questionID || outcomeByte), the value recorded
// alongside an on-chain resolution so the outcome can be verified later.
func OutcomeHash(questionID string, outcome bool) common.Hash {
	var b byte
	if outcome {
		b = 1
	}
	return ethcrypto.Keccak256Hash([]byte(questionID), []byte{b})
}

// MarketKey derives the bytes32 on-chain market identifier from an off-chain
// market id.
func MarketKey(marketID string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(marketID))
}
