package signingKey

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	curveOrder     = crypto.S256().Params().N
	halfCurveOrder = new(big.Int).Rsh(new(big.Int).Set(crypto.S256().Params().N), 1)
)

// CanonicalizeLowS normalizes sig to the lower half of the curve order.
// Negating S flips the recovery id parity. Canonicalizing an already-canonical
// signature returns it unchanged.
func CanonicalizeLowS(sig *Signature) *Signature {
	s := new(big.Int).SetBytes(sig.S[:])
	if s.Cmp(halfCurveOrder) <= 0 {
		return sig
	}
	s.Sub(curveOrder, s)
	out := &Signature{
		R:          sig.R,
		RecoveryID: sig.RecoveryID ^ 1,
	}
	s.FillBytes(out.S[:])
	return out
}

// RecoverAddress recovers the signer address for sig over digest.
func RecoverAddress(digest [32]byte, sig *Signature) (common.Address, error) {
	pubKey, err := crypto.SigToPub(digest[:], sig.Pack65())
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// NormalizeAndRecover turns a raw (r, s, best-guess recovery id) triple from a
// remote signer into a canonical signature verified against the expected
// address. The guess is tried first; if it doesn't recover the expected
// address, all four candidate ids are brute-forced. Remote custody services
// are not trusted to report the recovery id correctly, and a wrong signer
// must never be returned silently.
func NormalizeAndRecover(digest [32]byte, r [32]byte, s [32]byte, guess byte, expected common.Address) (*Signature, error) {
	base := CanonicalizeLowS(&Signature{R: r, S: s, RecoveryID: guess})

	candidates := []byte{base.RecoveryID}
	for id := byte(0); id < 4; id++ {
		if id != base.RecoveryID {
			candidates = append(candidates, id)
		}
	}

	attempted := make([]string, 0, len(candidates))
	for _, id := range candidates {
		candidate := &Signature{R: base.R, S: base.S, RecoveryID: id}
		recovered, err := RecoverAddress(digest, candidate)
		if err != nil {
			attempted = append(attempted, fmt.Sprintf("recid=%d err=%v", id, err))
			continue
		}
		if recovered == expected {
			return candidate, nil
		}
		attempted = append(attempted, fmt.Sprintf("recid=%d recovered=%s", id, recovered.Hex()))
	}

	return nil, types.NewEngineError(types.ErrorKindSignatureRecoveryFailed,
		"no recovery id candidate matches expected signer %s: %s",
		expected.Hex(), strings.Join(attempted, "; "))
}

// RemoteSignatureResponse is the shape remote signers answer with. Field names
// are inconsistent in the wild: recid, v, or recoveryId for the recovery id,
// and sometimes only a packed signature blob.
type RemoteSignatureResponse struct {
	R          string `json:"r,omitempty"`
	S          string `json:"s,omitempty"`
	RecID      *int   `json:"recid,omitempty"`
	V          *int   `json:"v,omitempty"`
	RecoveryID *int   `json:"recoveryId,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

// Components extracts (r, s, best-guess recovery id) from whichever fields are
// present. When no recovery id field is set, the guess defaults to 0 and the
// brute force in NormalizeAndRecover settles it.
func (resp *RemoteSignatureResponse) Components() (r [32]byte, s [32]byte, guess byte, err error) {
	if resp.R != "" && resp.S != "" {
		if r, err = parseHex32(resp.R); err != nil {
			return r, s, 0, fmt.Errorf("invalid r component: %w", err)
		}
		if s, err = parseHex32(resp.S); err != nil {
			return r, s, 0, fmt.Errorf("invalid s component: %w", err)
		}
	} else if resp.Signature != "" {
		packed, decodeErr := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
		if decodeErr != nil {
			return r, s, 0, fmt.Errorf("invalid packed signature: %w", decodeErr)
		}
		if len(packed) != 64 && len(packed) != 65 {
			return r, s, 0, fmt.Errorf("packed signature must be 64 or 65 bytes, got %d", len(packed))
		}
		copy(r[:], packed[:32])
		copy(s[:], packed[32:64])
		if len(packed) == 65 {
			guess = normalizeRecoveryID(int(packed[64]))
		}
	} else {
		return r, s, 0, fmt.Errorf("response carries neither r/s components nor a packed signature")
	}

	switch {
	case resp.RecID != nil:
		guess = normalizeRecoveryID(*resp.RecID)
	case resp.RecoveryID != nil:
		guess = normalizeRecoveryID(*resp.RecoveryID)
	case resp.V != nil:
		guess = normalizeRecoveryID(*resp.V)
	}
	return r, s, guess, nil
}

// normalizeRecoveryID folds Ethereum-style v values (27/28, or EIP-155
// chain-shifted) down to a raw recovery id.
func normalizeRecoveryID(v int) byte {
	if v >= 35 {
		return byte((v - 35) % 2)
	}
	if v >= 27 {
		return byte(v - 27)
	}
	return byte(v & 3)
}

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) > 32 {
		return out, fmt.Errorf("component longer than 32 bytes: %d", len(raw))
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}

// ParseDERSignature extracts (r, s) from a DER-encoded ECDSA signature, the
// format cloud KMS services return. DER carries no recovery id.
func ParseDERSignature(der []byte) (r [32]byte, s [32]byte, err error) {
	// SEQUENCE { INTEGER r, INTEGER s }
	if len(der) < 8 || der[0] != 0x30 {
		return r, s, fmt.Errorf("not a DER sequence")
	}
	body := der[2:]
	if der[1] == 0x81 {
		body = der[3:]
	}

	rBytes, rest, err := parseDERInteger(body)
	if err != nil {
		return r, s, fmt.Errorf("invalid r integer: %w", err)
	}
	sBytes, _, err := parseDERInteger(rest)
	if err != nil {
		return r, s, fmt.Errorf("invalid s integer: %w", err)
	}
	copy(r[32-len(rBytes):], rBytes)
	copy(s[32-len(sBytes):], sBytes)
	return r, s, nil
}

func parseDERInteger(data []byte) (value []byte, rest []byte, err error) {
	if len(data) < 2 || data[0] != 0x02 {
		return nil, nil, fmt.Errorf("expected INTEGER tag")
	}
	length := int(data[1])
	if len(data) < 2+length {
		return nil, nil, fmt.Errorf("truncated INTEGER of length %d", length)
	}
	value = data[2 : 2+length]
	// Strip the sign padding byte.
	for len(value) > 1 && value[0] == 0x00 {
		value = value[1:]
	}
	if len(value) > 32 {
		return nil, nil, fmt.Errorf("INTEGER wider than 32 bytes: %d", len(value))
	}
	return value, data[2+length:], nil
}
