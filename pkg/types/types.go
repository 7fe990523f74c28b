package types

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Scrobble is a single play event as accepted by the engine's public entry
// points. Fields are byte-capped and truncated by the registry encoder before
// they reach the wire.
type Scrobble struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	DurationSec uint32 `json:"durationSec"`
	PlayedAtSec uint64 `json:"playedAtSec"`
}

// Call is one contract invocation inside a session call.
type Call struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Input []byte         `json:"input"`
}

// FeeMode selects who pays for gas.
type FeeMode uint8

const (
	FeeModeRelaySponsored FeeMode = iota
	FeeModeSelfPaid
)

func (m FeeMode) String() string {
	switch m {
	case FeeModeRelaySponsored:
		return "relay-sponsored"
	case FeeModeSelfPaid:
		return "self-paid"
	default:
		return "unknown"
	}
}

// SessionCall is the unsigned transaction submitted by the engine. It uses an
// expiring nonce: ValidBeforeSec is always now + the fixed expiry window, so a
// call that misses its window dies instead of blocking a sequential nonce.
type SessionCall struct {
	NonceKey             [32]byte `json:"nonceKey"`
	Nonce                uint64   `json:"nonce"`
	ValidBeforeSec       uint64   `json:"validBeforeSec"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	FeeMode              FeeMode  `json:"feeMode"`
	GasLimit             uint64   `json:"gasLimit"`
	Calls                []Call   `json:"calls"`

	// KeyAuthorization carries the session key's authorization blob when the
	// signer is a delegated session key. Empty for interactive signers.
	KeyAuthorization []byte `json:"keyAuthorization,omitempty"`
}

// SigningHash returns the digest a SigningKey signs for this call. Fees are
// part of the digest, so every re-bid forces a fresh signature and a stale
// signature can never be replayed at a different fee tier.
func (sc *SessionCall) SigningHash(chainID uint64) [32]byte {
	buf := make([]byte, 0, 256)

	chainIDBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(chainIDBytes, chainID)
	buf = append(buf, chainIDBytes...)

	buf = append(buf, sc.NonceKey[:]...)
	buf = appendUint64(buf, sc.Nonce)
	buf = appendUint64(buf, sc.ValidBeforeSec)
	buf = append(buf, common.LeftPadBytes(bigOrZero(sc.MaxPriorityFeePerGas).Bytes(), 16)...)
	buf = append(buf, common.LeftPadBytes(bigOrZero(sc.MaxFeePerGas).Bytes(), 16)...)
	buf = append(buf, byte(sc.FeeMode))
	buf = appendUint64(buf, sc.GasLimit)

	callsHash := hashCalls(sc.Calls)
	buf = append(buf, callsHash[:]...)

	buf = append(buf, crypto.Keccak256(sc.KeyAuthorization)...)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(buf))
	return digest
}

func hashCalls(calls []Call) [32]byte {
	buf := make([]byte, 0, len(calls)*96)
	for _, c := range calls {
		buf = append(buf, c.To.Bytes()...)
		buf = append(buf, common.LeftPadBytes(bigOrZero(c.Value).Bytes(), 32)...)
		buf = append(buf, crypto.Keccak256(c.Input)...)
	}
	var h [32]byte
	copy(h[:], crypto.Keccak256(buf))
	return h
}

func appendUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return append(buf, b...)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// SessionCallSubmission is the outcome of one fallback-aware submission cycle:
// the hash the network finally accepted and whether the self-pay path was
// needed to get there.
type SessionCallSubmission struct {
	TxHash              common.Hash
	UsedSelfPayFallback bool
}

// SubmissionResult is returned to callers of the engine's entry points.
type SubmissionResult struct {
	Success             bool      `json:"success"`
	TxHash              string    `json:"txHash,omitempty"`
	ErrorKind           ErrorKind `json:"errorKind,omitempty"`
	ErrorDetail         string    `json:"errorDetail,omitempty"`
	UsedSelfPayFallback bool      `json:"usedSelfPayFallback"`
	UsedRegisterPath    bool      `json:"usedRegisterPath"`
	Confirmed           bool      `json:"confirmed"`
}
