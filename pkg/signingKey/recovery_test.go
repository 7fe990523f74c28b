package signingKey

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (*ecdsa.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signDigest(t *testing.T, key *ecdsa.PrivateKey, digest [32]byte) *Signature {
	t.Helper()
	raw, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	sig := &Signature{RecoveryID: raw[64]}
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	return sig
}

func randomDigest(t *testing.T) [32]byte {
	t.Helper()
	var digest [32]byte
	_, err := rand.Read(digest[:])
	require.NoError(t, err)
	return digest
}

func TestCanonicalizeLowS_Idempotent(t *testing.T) {
	key, _ := generateKey(t)
	for i := 0; i < 16; i++ {
		sig := signDigest(t, key, randomDigest(t))
		once := CanonicalizeLowS(sig)
		twice := CanonicalizeLowS(once)
		assert.Equal(t, once, twice)

		s := new(big.Int).SetBytes(once.S[:])
		assert.True(t, s.Cmp(halfCurveOrder) <= 0, "canonical s must be low")
	}
}

func TestCanonicalizeLowS_FlipsHighS(t *testing.T) {
	key, addr := generateKey(t)
	digest := randomDigest(t)
	sig := signDigest(t, key, digest)

	// Forge the high-S twin: s' = N - s, parity flipped.
	highS := new(big.Int).Sub(curveOrder, new(big.Int).SetBytes(sig.S[:]))
	forged := &Signature{R: sig.R, RecoveryID: sig.RecoveryID ^ 1}
	highS.FillBytes(forged.S[:])

	normalized := CanonicalizeLowS(forged)
	assert.Equal(t, sig.S, normalized.S)
	assert.Equal(t, sig.RecoveryID, normalized.RecoveryID)

	recovered, err := RecoverAddress(digest, normalized)
	require.NoError(t, err)
	assert.Equal(t, addr, [20]byte(recovered))
}

func TestNormalizeAndRecover_CorrectGuess(t *testing.T) {
	key, addr := generateKey(t)
	for i := 0; i < 16; i++ {
		digest := randomDigest(t)
		sig := signDigest(t, key, digest)

		out, err := NormalizeAndRecover(digest, sig.R, sig.S, sig.RecoveryID, addr)
		require.NoError(t, err)
		assert.Equal(t, sig.RecoveryID, out.RecoveryID)

		recovered, err := RecoverAddress(digest, out)
		require.NoError(t, err)
		assert.Equal(t, addr, [20]byte(recovered))
	}
}

func TestNormalizeAndRecover_BruteForcesWrongGuess(t *testing.T) {
	key, addr := generateKey(t)
	digest := randomDigest(t)
	sig := signDigest(t, key, digest)

	// A remote signer reporting a garbage recovery id must still resolve.
	out, err := NormalizeAndRecover(digest, sig.R, sig.S, sig.RecoveryID^1, addr)
	require.NoError(t, err)

	recovered, err := RecoverAddress(digest, out)
	require.NoError(t, err)
	assert.Equal(t, addr, [20]byte(recovered))
}

func TestNormalizeAndRecover_NoCandidateMatches(t *testing.T) {
	key, _ := generateKey(t)
	_, otherAddr := generateKey(t)
	digest := randomDigest(t)
	sig := signDigest(t, key, digest)

	_, err := NormalizeAndRecover(digest, sig.R, sig.S, sig.RecoveryID, otherAddr)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindSignatureRecoveryFailed))
	// Diagnostic must list every attempted candidate.
	assert.Contains(t, err.Error(), "recid=0")
	assert.Contains(t, err.Error(), "recid=1")
	assert.Contains(t, err.Error(), "recid=2")
	assert.Contains(t, err.Error(), "recid=3")
}

func TestRemoteSignatureResponse_Components(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name          string
		resp          RemoteSignatureResponse
		expectedGuess byte
		expectErr     bool
	}{
		{
			name:          "r/s with recid",
			resp:          RemoteSignatureResponse{R: "0x01", S: "0x02", RecID: intPtr(1)},
			expectedGuess: 1,
		},
		{
			name:          "r/s with legacy v",
			resp:          RemoteSignatureResponse{R: "0x01", S: "0x02", V: intPtr(28)},
			expectedGuess: 1,
		},
		{
			name:          "r/s with eip155 v",
			resp:          RemoteSignatureResponse{R: "0x01", S: "0x02", V: intPtr(16952)},
			expectedGuess: 1,
		},
		{
			name:          "r/s with recoveryId field",
			resp:          RemoteSignatureResponse{R: "0x01", S: "0x02", RecoveryID: intPtr(0)},
			expectedGuess: 0,
		},
		{
			name:          "r/s without any id defaults to zero",
			resp:          RemoteSignatureResponse{R: "0x01", S: "0x02"},
			expectedGuess: 0,
		},
		{
			name: "packed 65-byte signature",
			resp: RemoteSignatureResponse{
				Signature: "0x" + repeatHex("11", 32) + repeatHex("22", 32) + "01",
			},
			expectedGuess: 1,
		},
		{
			name: "packed 64-byte signature",
			resp: RemoteSignatureResponse{
				Signature: "0x" + repeatHex("11", 32) + repeatHex("22", 32),
			},
			expectedGuess: 0,
		},
		{
			name:      "empty response",
			resp:      RemoteSignatureResponse{},
			expectErr: true,
		},
		{
			name:      "bad hex",
			resp:      RemoteSignatureResponse{R: "0xzz", S: "0x02"},
			expectErr: true,
		},
		{
			name:      "truncated packed signature",
			resp:      RemoteSignatureResponse{Signature: "0x1122"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, guess, err := tt.resp.Components()
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedGuess, guess)
		})
	}
}

func repeatHex(pair string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += pair
	}
	return out
}

func TestParseDERSignature_RoundTrip(t *testing.T) {
	key, addr := generateKey(t)
	digest := randomDigest(t)
	sig := signDigest(t, key, digest)

	der := derEncode(sig.R[:], sig.S[:])
	r, s, err := ParseDERSignature(der)
	require.NoError(t, err)
	assert.Equal(t, sig.R, r)
	assert.Equal(t, sig.S, s)

	// Parsed components feed straight into recovery.
	out, err := NormalizeAndRecover(digest, r, s, 0, addr)
	require.NoError(t, err)
	recovered, err := RecoverAddress(digest, out)
	require.NoError(t, err)
	assert.Equal(t, addr, [20]byte(recovered))
}

func TestParseDERSignature_Malformed(t *testing.T) {
	_, _, err := ParseDERSignature([]byte{0x30, 0x02, 0x01})
	require.Error(t, err)

	_, _, err = ParseDERSignature([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	require.Error(t, err)
}

// derEncode builds SEQUENCE { INTEGER r, INTEGER s } with minimal sign padding.
func derEncode(r, s []byte) []byte {
	encodeInt := func(v []byte) []byte {
		for len(v) > 1 && v[0] == 0x00 {
			v = v[1:]
		}
		if v[0]&0x80 != 0 {
			v = append([]byte{0x00}, v...)
		}
		return append([]byte{0x02, byte(len(v))}, v...)
	}
	body := append(encodeInt(r), encodeInt(s)...)
	return append([]byte{0x30, byte(len(body))}, body...)
}
