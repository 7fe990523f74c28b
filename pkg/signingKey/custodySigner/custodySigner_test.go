package custodySigner

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// custodyResponder shapes the JSON the fake custody service answers with,
// given the raw 65-byte signature the service's key produced.
type custodyResponder func(packed []byte) map[string]interface{}

type capturedRequest struct {
	AuthHeader string
	Identifier string
	Data       string
}

// newCustodyService signs incoming digests with key and answers in whatever
// shape respond builds. Custody services in the wild disagree on field names,
// so each test picks its own shape.
func newCustodyService(t *testing.T, key *ecdsa.PrivateKey, respond custodyResponder) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/sign", r.URL.Path)

		var req struct {
			Identifier string `json:"identifier"`
			Data       string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		captured.AuthHeader = r.Header.Get("Authorization")
		captured.Identifier = req.Identifier
		captured.Data = req.Data

		digest, err := hex.DecodeString(strings.TrimPrefix(req.Data, "0x"))
		require.NoError(t, err)
		require.Len(t, digest, 32)

		packed, err := crypto.Sign(digest, key)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(respond(packed)))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestSigner(t *testing.T, url string, fromAddress string) *CustodySigner {
	t.Helper()
	signer, err := NewCustodySigner(&config.CustodySignerConfig{
		Url:         url,
		FromAddress: fromAddress,
		APIToken:    "custody-api-token",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return signer
}

func testDigest() [32]byte {
	return crypto.Keccak256Hash([]byte("custody digest"))
}

func TestCustodySigner_SignDigest_ComponentFields(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	server, _ := newCustodyService(t, key, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"r":     "0x" + hex.EncodeToString(packed[:32]),
			"s":     "0x" + hex.EncodeToString(packed[32:64]),
			"recid": int(packed[64]),
		}
	})

	signer := newTestSigner(t, server.URL, addr.Hex())
	signer.SetHttpClient(server.Client())

	digest := testDigest()
	sig, err := signer.SignDigest(context.Background(), digest)
	require.NoError(t, err)

	recovered, err := signingKey.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestCustodySigner_SignDigest_LegacyVField(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	server, _ := newCustodyService(t, key, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"r": "0x" + hex.EncodeToString(packed[:32]),
			"s": "0x" + hex.EncodeToString(packed[32:64]),
			"v": 27 + int(packed[64]),
		}
	})

	signer := newTestSigner(t, server.URL, addr.Hex())
	signer.SetHttpClient(server.Client())

	digest := testDigest()
	sig, err := signer.SignDigest(context.Background(), digest)
	require.NoError(t, err)

	recovered, err := signingKey.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestCustodySigner_SignDigest_PackedSignatureOnly(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	// 64-byte blob with no recovery id at all; the brute force settles it.
	server, _ := newCustodyService(t, key, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"signature": "0x" + hex.EncodeToString(packed[:64]),
		}
	})

	signer := newTestSigner(t, server.URL, addr.Hex())
	signer.SetHttpClient(server.Client())

	digest := testDigest()
	sig, err := signer.SignDigest(context.Background(), digest)
	require.NoError(t, err)

	recovered, err := signingKey.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestCustodySigner_SignDigest_WrongRecidIsBruteForced(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	server, _ := newCustodyService(t, key, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"r":     "0x" + hex.EncodeToString(packed[:32]),
			"s":     "0x" + hex.EncodeToString(packed[32:64]),
			"recid": int(packed[64]) ^ 1, // lies about the recovery id
		}
	})

	signer := newTestSigner(t, server.URL, addr.Hex())
	signer.SetHttpClient(server.Client())

	digest := testDigest()
	sig, err := signer.SignDigest(context.Background(), digest)
	require.NoError(t, err)

	recovered, err := signingKey.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestCustodySigner_SendsAuthTokenAndDigest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	server, captured := newCustodyService(t, key, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"r":     "0x" + hex.EncodeToString(packed[:32]),
			"s":     "0x" + hex.EncodeToString(packed[32:64]),
			"recid": int(packed[64]),
		}
	})

	signer := newTestSigner(t, server.URL, addr.Hex())
	signer.SetHttpClient(server.Client())

	digest := testDigest()
	_, err = signer.SignDigest(context.Background(), digest)
	require.NoError(t, err)

	assert.Equal(t, "Bearer custody-api-token", captured.AuthHeader)
	assert.Equal(t, addr.Hex(), captured.Identifier)
	assert.Equal(t, "0x"+hex.EncodeToString(digest[:]), captured.Data)
}

func TestCustodySigner_ForeignSignatureRejected(t *testing.T) {
	serviceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	expectedAddr := crypto.PubkeyToAddress(otherKey.PublicKey)

	server, _ := newCustodyService(t, serviceKey, func(packed []byte) map[string]interface{} {
		return map[string]interface{}{
			"r":     "0x" + hex.EncodeToString(packed[:32]),
			"s":     "0x" + hex.EncodeToString(packed[32:64]),
			"recid": int(packed[64]),
		}
	})

	// Configured identity does not match the key the service signs with.
	signer := newTestSigner(t, server.URL, expectedAddr.Hex())
	signer.SetHttpClient(server.Client())

	_, err = signer.SignDigest(context.Background(), testDigest())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindSignatureRecoveryFailed))
}

func TestCustodySigner_ServiceErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("signing backend unavailable"))
	}))
	t.Cleanup(server.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := newTestSigner(t, server.URL, crypto.PubkeyToAddress(key.PublicKey).Hex())
	signer.SetHttpClient(server.Client())

	_, err = signer.SignDigest(context.Background(), testDigest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewCustodySigner_RejectsInvalidConfig(t *testing.T) {
	_, err := NewCustodySigner(&config.CustodySignerConfig{Url: "http://localhost"}, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = NewCustodySigner(&config.CustodySignerConfig{
		Url:         "http://localhost",
		FromAddress: "not-an-address",
	}, zaptest.NewLogger(t))
	require.Error(t, err)
}
