package types

import "github.com/ethereum/go-ethereum/common"

// SignedSessionCall pairs a session call with its packed 65-byte signature
// (r || s || recoveryId) and the address the signature recovers to.
type SignedSessionCall struct {
	Call      SessionCall    `json:"call"`
	Signature []byte         `json:"signature"`
	Signer    common.Address `json:"signer"`
}
