// Package sessionKeySigner implements SigningKey with an in-process secp256k1
// key. This is the silent background signer: no user interaction, no network,
// but the delegated key can go stale or be revoked on-chain, at which point
// the orchestrator refreshes or falls back to an interactive signer.
package sessionKeySigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

type SessionKeySigner struct {
	logger  *zap.Logger
	address common.Address

	mu            sync.Mutex
	privateKey    *ecdsa.PrivateKey
	authorization []byte
}

var _ signingKey.SigningKey = (*SessionKeySigner)(nil)
var _ signingKey.KeyAuthorizer = (*SessionKeySigner)(nil)

// NewSessionKeySigner creates a signer from a hex-encoded private key.
func NewSessionKeySigner(hexKey string, logger *zap.Logger) (*SessionKeySigner, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("session key cannot be empty")
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session key: %w", err)
	}
	return NewSessionKeySignerFromKey(privateKey, logger), nil
}

// NewSessionKeySignerFromKey wraps an existing key.
func NewSessionKeySignerFromKey(privateKey *ecdsa.PrivateKey, logger *zap.Logger) *SessionKeySigner {
	return &SessionKeySigner{
		logger:     logger,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// GenerateSessionKeySigner creates a signer with a fresh ephemeral key, used
// when rotating a stale session key.
func GenerateSessionKeySigner(logger *zap.Logger) (*SessionKeySigner, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return NewSessionKeySignerFromKey(privateKey, logger), nil
}

func (s *SessionKeySigner) SignDigest(_ context.Context, digest [32]byte) (*signingKey.Signature, error) {
	s.mu.Lock()
	privateKey := s.privateKey
	s.mu.Unlock()

	raw, err := crypto.Sign(digest[:], privateKey)
	if err != nil {
		return nil, fmt.Errorf("session key signing failed: %w", err)
	}

	sig := &signingKey.Signature{RecoveryID: raw[64]}
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])

	// crypto.Sign already yields low-S; canonicalizing keeps the invariant
	// explicit and uniform across signer variants.
	return signingKey.CanonicalizeLowS(sig), nil
}

func (s *SessionKeySigner) PublicIdentity() common.Address {
	return s.address
}

// KeyAuthorization returns the on-chain authorization blob delegating this
// session key, or nil when the key has not been authorized yet.
func (s *SessionKeySigner) KeyAuthorization() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorization
}

// SetKeyAuthorization attaches the authorization blob issued for this key.
func (s *SessionKeySigner) SetKeyAuthorization(auth []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorization = auth
}
