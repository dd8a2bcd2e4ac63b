// Package crypto provides order hashing for the exchange. Signature
// verification happens upstream; the engine only needs stable, collision
// resistant order identities.
package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/catallaxyz/matchd/internal/domain"
)

// DomainSeparator namespaces order hashes so payloads signed for another
// deployment can never collide with ours.
const DomainSeparator = "Catallaxyz Exchange v1"

// HashOrder returns the 32-byte keccak256 identity of an order: the hash of
// the domain separator concatenated with the canonical encoding.
func HashOrder(o domain.Order) (common.Hash, error) {
	payload, err := domain.EncodeOrder(o)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: hash order: %w", err)
	}
	return ethcrypto.Keccak256Hash([]byte(DomainSeparator), payload), nil
}

// MustHashOrder is HashOrder for orders already known to encode cleanly,
// such as ones constructed in-process. It panics on encoding failure.
func MustHashOrder(o domain.Order) common.Hash {
	h, err := HashOrder(o)
	if err != nil {
		panic(err)
	}
	return h
}
