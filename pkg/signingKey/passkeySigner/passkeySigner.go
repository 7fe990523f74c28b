// Package passkeySigner implements SigningKey via a platform-authenticator
// bridge. Signing is user-interactive: the bridge prompts the platform
// authenticator for an assertion over the digest, so latency is human-scale
// and the call can fail on either the network or a declined prompt.
package passkeySigner

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Interactive prompts can sit for a long time waiting on the user.
const defaultAssertTimeout = 2 * time.Minute

type PasskeySigner struct {
	url          string
	credentialID string
	address      common.Address
	httpClient   *http.Client
	logger       *zap.Logger
}

var _ signingKey.SigningKey = (*PasskeySigner)(nil)

func NewPasskeySigner(cfg *config.PasskeySignerConfig, logger *zap.Logger) (*PasskeySigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid passkey signer config: %w", err)
	}
	return &PasskeySigner{
		url:          cfg.Url,
		credentialID: cfg.CredentialID,
		address:      common.HexToAddress(cfg.FromAddress),
		httpClient:   &http.Client{Timeout: defaultAssertTimeout},
		logger:       logger,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client, primarily for testing.
func (p *PasskeySigner) SetHttpClient(client *http.Client) {
	p.httpClient = client
}

type assertRequest struct {
	CredentialID string `json:"credentialId"`
	Challenge    string `json:"challenge"`
}

func (p *PasskeySigner) SignDigest(ctx context.Context, digest [32]byte) (*signingKey.Signature, error) {
	reqBody, err := json.Marshal(&assertRequest{
		CredentialID: p.credentialID,
		Challenge:    "0x" + hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal passkey assertion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/assert", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build passkey assertion request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "passkey assertion request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read passkey assertion response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authenticator bridge returned status %d: %s", resp.StatusCode, string(body))
	}

	var remote signingKey.RemoteSignatureResponse
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, errors.Wrap(err, "failed to decode passkey assertion response")
	}

	r, s, guess, err := remote.Components()
	if err != nil {
		return nil, fmt.Errorf("malformed passkey signature: %w", err)
	}

	// Authenticators don't canonicalize and rarely report a usable recovery
	// id; normalize and verify before trusting the assertion.
	sig, err := signingKey.NormalizeAndRecover(digest, r, s, guess, p.address)
	if err != nil {
		return nil, err
	}

	p.logger.Sugar().Debugw("PasskeySigner: assertion verified",
		"signer", p.address.Hex(),
		"recoveryId", sig.RecoveryID,
	)
	return sig, nil
}

func (p *PasskeySigner) PublicIdentity() common.Address {
	return p.address
}
