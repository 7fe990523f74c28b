// Package relayClient talks to the sponsor relay: sponsored submission (the
// relay pays gas), direct self-paid submission, and best-effort sender
// funding. Relay error bodies are classified through the same mapping function
// as chain RPC errors so the engine never inspects relay error text.
package relayClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/chainReader"
	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	methodSubmitSponsoredCall = "relay_submitSponsoredCall"
	methodSubmitCall          = "relay_submitCall"
	methodFundAddress         = "relay_fundAddress"

	defaultRequestTimeout = 30 * time.Second
	authTokenTTL          = 30 * time.Second
)

// IRelayClient is the submission surface consumed by the retry loop and the
// orchestrator.
type IRelayClient interface {
	// SubmitSponsoredCall submits a signed session call on the relay's dime.
	SubmitSponsoredCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error)

	// SubmitCall submits a signed session call paying its own gas.
	SubmitCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error)

	// FundAddress asks the relay to top up addr for self-paid submission.
	FundAddress(ctx context.Context, addr common.Address) error
}

type Client struct {
	url        string
	authSecret []byte
	httpClient *http.Client
	logger     *zap.Logger
}

var _ IRelayClient = (*Client)(nil)

func NewRelayClient(cfg *config.RelayConfig, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	var secret []byte
	if cfg.AuthSecret != "" {
		secret = []byte(cfg.AuthSecret)
	}
	return &Client{
		url:        cfg.Url,
		authSecret: secret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client, primarily for testing.
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// sessionCallWire is the relay wire form of a session call.
type sessionCallWire struct {
	NonceKey             hexutil.Bytes  `json:"nonceKey"`
	Nonce                hexutil.Uint64 `json:"nonce"`
	ValidBeforeSec       hexutil.Uint64 `json:"validBefore"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	FeeMode              hexutil.Uint64 `json:"feeMode"`
	GasLimit             hexutil.Uint64 `json:"gas"`
	Calls                []callWire     `json:"calls"`
	KeyAuthorization     hexutil.Bytes  `json:"keyAuthorization,omitempty"`
	Signature            hexutil.Bytes  `json:"signature"`
	Signer               string         `json:"signer"`
}

type callWire struct {
	To    string        `json:"to"`
	Value *hexutil.Big  `json:"value"`
	Input hexutil.Bytes `json:"input"`
}

func toWire(signed *types.SignedSessionCall) *sessionCallWire {
	calls := make([]callWire, 0, len(signed.Call.Calls))
	for _, call := range signed.Call.Calls {
		calls = append(calls, callWire{
			To:    call.To.Hex(),
			Value: (*hexutil.Big)(call.Value),
			Input: call.Input,
		})
	}
	return &sessionCallWire{
		NonceKey:             signed.Call.NonceKey[:],
		Nonce:                hexutil.Uint64(signed.Call.Nonce),
		ValidBeforeSec:       hexutil.Uint64(signed.Call.ValidBeforeSec),
		MaxPriorityFeePerGas: (*hexutil.Big)(signed.Call.MaxPriorityFeePerGas),
		MaxFeePerGas:         (*hexutil.Big)(signed.Call.MaxFeePerGas),
		FeeMode:              hexutil.Uint64(signed.Call.FeeMode),
		GasLimit:             hexutil.Uint64(signed.Call.GasLimit),
		Calls:                calls,
		KeyAuthorization:     signed.Call.KeyAuthorization,
		Signature:            signed.Signature,
		Signer:               signed.Signer.Hex(),
	}
}

func (c *Client) SubmitSponsoredCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error) {
	return c.submit(ctx, methodSubmitSponsoredCall, signed)
}

func (c *Client) SubmitCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error) {
	return c.submit(ctx, methodSubmitCall, signed)
}

func (c *Client) submit(ctx context.Context, method string, signed *types.SignedSessionCall) (common.Hash, error) {
	var result struct {
		TxHash common.Hash `json:"txHash"`
	}
	if err := c.call(ctx, method, []interface{}{toWire(signed)}, &result); err != nil {
		return common.Hash{}, err
	}

	c.logger.Sugar().Infow("relay accepted session call",
		"method", method,
		"txHash", result.TxHash.Hex(),
		"signer", signed.Signer.Hex(),
		"maxFeePerGas", signed.Call.MaxFeePerGas.String(),
	)
	return result.TxHash, nil
}

func (c *Client) FundAddress(ctx context.Context, addr common.Address) error {
	var result struct {
		Funded bool `json:"funded"`
	}
	if err := c.call(ctx, methodFundAddress, []interface{}{addr.Hex()}, &result); err != nil {
		return err
	}
	if !result.Funded {
		return types.NewEngineError(types.ErrorKindRPCResponse, "relay declined to fund %s", addr.Hex())
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrapf(err, "failed to build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.attachAuth(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.WrapEngineError(types.ErrorKindRPCUnreachable, err, "%s transport failure", method)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.WrapEngineError(types.ErrorKindRPCUnreachable, err, "%s response read failure", method)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewEngineError(chainReader.ClassifyRPCMessage(string(body)),
			"%s returned status %d: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return types.WrapEngineError(types.ErrorKindRPCResponse, err, "%s returned malformed body", method)
	}
	if rpcResp.Error != nil {
		return types.NewEngineError(chainReader.ClassifyRPCMessage(rpcResp.Error.Message),
			"%s rejected (code %d): %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return types.WrapEngineError(types.ErrorKindRPCResponse, err, "%s returned malformed result", method)
		}
	}
	return nil
}

// attachAuth mints a short-lived HS256 token per request when an auth secret
// is configured.
func (c *Client) attachAuth(req *http.Request) error {
	if len(c.authSecret) == 0 {
		return nil
	}
	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer("scrobble-engine").
		IssuedAt(now).
		Expiration(now.Add(authTokenTTL)).
		Build()
	if err != nil {
		return errors.Wrap(err, "failed to build relay auth token")
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), c.authSecret))
	if err != nil {
		return errors.Wrap(err, "failed to sign relay auth token")
	}
	req.Header.Set("Authorization", "Bearer "+string(signed))
	return nil
}
