// Package signingKey defines the signature provider contract shared by all
// signer variants: local session keys, passkey authenticators, and remote
// custody services. Every variant produces a canonical low-S signature whose
// recovery id resolves to the signer's public identity.
package signingKey

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Signature is a canonical secp256k1 signature over a 32-byte digest.
// S is always in the lower half of the curve order, and RecoveryID satisfies
// recover(digest, R, S, RecoveryID) == the signer's address.
type Signature struct {
	R          [32]byte
	S          [32]byte
	RecoveryID byte
}

// Pack65 serializes the signature as r || s || recoveryId, the wire layout
// expected by the relay and the registry contract.
func (s *Signature) Pack65() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.RecoveryID
	return out
}

// SigningKey signs session-call digests. Implementations differ in where the
// private operation happens (in-process, platform authenticator, remote
// custody service) and therefore in latency and failure modes; local signing
// cannot fail on network, remote signing can.
type SigningKey interface {
	// SignDigest signs a 32-byte digest.
	SignDigest(ctx context.Context, digest [32]byte) (*Signature, error)

	// PublicIdentity returns the address all produced signatures recover to.
	PublicIdentity() common.Address
}

// KeyAuthorizer is implemented by signers whose key must be accompanied by an
// authorization blob on-chain (delegated session keys). Interactive signers
// don't implement it.
type KeyAuthorizer interface {
	KeyAuthorization() []byte
}
