// Package custodySigner implements SigningKey against a remote
// threshold-custody signing service. The service holds key shares; the engine
// only sees (r, s) plus an unreliable recovery id, which is normalized and
// verified before use.
package custodySigner

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

const defaultRequestTimeout = 30 * time.Second

type CustodySigner struct {
	url        string
	apiToken   string
	address    common.Address
	httpClient *http.Client
	logger     *zap.Logger
}

var _ signingKey.SigningKey = (*CustodySigner)(nil)

// NewCustodySigner creates a signer from a custody service config.
func NewCustodySigner(cfg *config.CustodySignerConfig, logger *zap.Logger) (*CustodySigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid custody signer config: %w", err)
	}
	return &CustodySigner{
		url:        cfg.Url,
		apiToken:   cfg.APIToken,
		address:    common.HexToAddress(cfg.FromAddress),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client, primarily for testing.
func (c *CustodySigner) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

type signRequest struct {
	Identifier string `json:"identifier"`
	Data       string `json:"data"`
}

func (c *CustodySigner) SignDigest(ctx context.Context, digest [32]byte) (*signingKey.Signature, error) {
	reqBody, err := json.Marshal(&signRequest{
		Identifier: c.address.Hex(),
		Data:       "0x" + hex.EncodeToString(digest[:]),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal custody sign request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v1/sign", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build custody sign request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "custody sign request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read custody sign response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custody service returned status %d: %s", resp.StatusCode, string(body))
	}

	var remote signingKey.RemoteSignatureResponse
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, errors.Wrap(err, "failed to decode custody sign response")
	}

	r, s, guess, err := remote.Components()
	if err != nil {
		return nil, fmt.Errorf("malformed custody signature: %w", err)
	}

	sig, err := signingKey.NormalizeAndRecover(digest, r, s, guess, c.address)
	if err != nil {
		return nil, err
	}

	c.logger.Sugar().Debugw("CustodySigner: signed digest",
		"signer", c.address.Hex(),
		"recoveryId", sig.RecoveryID,
	)
	return sig, nil
}

func (c *CustodySigner) PublicIdentity() common.Address {
	return c.address
}
