// Package submitter runs the per-call submission state machine:
// Building -> Signed -> Submitted -> {Accepted, UnderpricedRetry, FatalError}.
// Only an underpriced-replacement rejection loops back through a re-bid;
// every other failure is fatal and propagates immediately.
package submitter

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/chainReader"
	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/feeBidder"
	"github.com/echofm-labs/scrobble-engine-go/pkg/relayClient"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type state int

const (
	stateBuilding state = iota
	stateSigned
	stateSubmitted
	stateAccepted
	stateUnderpricedRetry
	stateFatalError
)

func (s state) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateSigned:
		return "signed"
	case stateSubmitted:
		return "submitted"
	case stateAccepted:
		return "accepted"
	case stateUnderpricedRetry:
		return "underpriced-retry"
	case stateFatalError:
		return "fatal-error"
	default:
		return "unknown"
	}
}

// gasBufferPercent pads estimates against state drift between estimation and
// inclusion.
const gasBufferPercent = 20

// Request describes one submission: the calls to execute and how gas is paid.
type Request struct {
	Calls   []types.Call
	FeeMode types.FeeMode
	Signer  signingKey.SigningKey
}

// Submitted reports an accepted submission: the network hash plus the expiry
// the receipt awaiter must respect.
type Submitted struct {
	TxHash         common.Hash
	ValidBeforeSec uint64
	Fees           feeBidder.Eip1559Fees
}

// Submitter builds, signs, and submits session calls with bounded
// underpriced-replacement retries.
type Submitter struct {
	chainID uint64
	reader  chainReader.IChainReader
	relay   relayClient.IRelayClient
	bidder  *feeBidder.Bidder
	logger  *zap.Logger

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	retryDelay   time.Duration
	expiryWindow time.Duration
}

func NewSubmitter(
	chainID uint64,
	reader chainReader.IChainReader,
	relay relayClient.IRelayClient,
	bidder *feeBidder.Bidder,
	logger *zap.Logger,
) *Submitter {
	return &Submitter{
		chainID:      chainID,
		reader:       reader,
		relay:        relay,
		bidder:       bidder,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
		retryDelay:   config.UnderpricedRetryDelay,
		expiryWindow: config.ExpiryWindow,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Submit runs the retry loop until the network accepts a hash, a fatal error
// occurs, or the retry bound is exhausted. Each retry re-bids, rebuilds, and
// re-signs: fees are part of the digest, so the signed call always reflects
// the latest bid.
func (s *Submitter) Submit(ctx context.Context, req *Request) (*Submitted, error) {
	if len(req.Calls) == 0 {
		return nil, types.NewEngineError(types.ErrorKindInvalidInput, "no calls to submit")
	}

	sender := req.Signer.PublicIdentity()
	fees := s.bidder.InitialBid(ctx, sender, req.FeeMode)

	nonceKey, nonce, err := freshNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gasLimit, err := s.estimateGasLimit(ctx, sender, req.Calls)
	if err != nil {
		return nil, err
	}

	current := stateBuilding
	totalAttempts := config.MaxUnderpricedRetries + 1
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		call := s.buildCall(req, nonceKey, nonce, gasLimit, fees)
		digest := call.SigningHash(s.chainID)

		sig, err := req.Signer.SignDigest(ctx, digest)
		if err != nil {
			s.transition(&current, stateFatalError, attempt, fees)
			return nil, fmt.Errorf("failed to sign session call: %w", err)
		}
		s.transition(&current, stateSigned, attempt, fees)

		signed := &types.SignedSessionCall{
			Call:      *call,
			Signature: sig.Pack65(),
			Signer:    sender,
		}

		txHash, err := s.send(ctx, signed)
		s.transition(&current, stateSubmitted, attempt, fees)
		if err == nil {
			s.transition(&current, stateAccepted, attempt, fees)
			return &Submitted{
				TxHash:         txHash,
				ValidBeforeSec: call.ValidBeforeSec,
				Fees:           fees,
			}, nil
		}

		// Closed retry condition: only the underpriced-replacement
		// classification loops; everything else is fatal.
		if !types.IsKind(err, types.ErrorKindUnderpricedReplacement) {
			s.transition(&current, stateFatalError, attempt, fees)
			return nil, err
		}

		if attempt == totalAttempts {
			break
		}

		s.transition(&current, stateUnderpricedRetry, attempt, fees)
		fees = s.bidder.RebidAfterUnderpriced(sender, fees)
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return nil, err
		}
	}

	s.transition(&current, stateFatalError, totalAttempts, fees)
	return nil, types.NewEngineError(types.ErrorKindReplacementRejected,
		"network still rejected replacement after %d attempts; last bid priority=%s max=%s",
		totalAttempts, fees.MaxPriorityFeePerGas.String(), fees.MaxFeePerGas.String())
}

func (s *Submitter) send(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error) {
	if signed.Call.FeeMode == types.FeeModeSelfPaid {
		return s.relay.SubmitCall(ctx, signed)
	}
	return s.relay.SubmitSponsoredCall(ctx, signed)
}

func (s *Submitter) buildCall(
	req *Request,
	nonceKey [32]byte,
	nonce uint64,
	gasLimit uint64,
	fees feeBidder.Eip1559Fees,
) *types.SessionCall {
	call := &types.SessionCall{
		NonceKey: nonceKey,
		Nonce:    nonce,
		// The validity window restarts on every rebuild so a retried call
		// gets the full window, never a partially burned one.
		ValidBeforeSec:       uint64(s.now().Add(s.expiryWindow).Unix()),
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas,
		MaxFeePerGas:         fees.MaxFeePerGas,
		FeeMode:              req.FeeMode,
		GasLimit:             gasLimit,
		Calls:                req.Calls,
	}
	if authorizer, ok := req.Signer.(signingKey.KeyAuthorizer); ok {
		call.KeyAuthorization = authorizer.KeyAuthorization()
	}
	return call
}

func (s *Submitter) estimateGasLimit(ctx context.Context, sender common.Address, calls []types.Call) (uint64, error) {
	var total uint64
	for _, call := range calls {
		gas, err := s.reader.EstimateGas(ctx, sender, call.To, call.Input)
		if err != nil {
			return 0, err
		}
		total += gas
	}
	return total + total*gasBufferPercent/100, nil
}

func (s *Submitter) transition(current *state, next state, attempt int, fees feeBidder.Eip1559Fees) {
	s.logger.Sugar().Debugw("submitter state transition",
		"from", current.String(),
		"to", next.String(),
		"attempt", attempt,
		"maxPriorityFeePerGas", fees.MaxPriorityFeePerGas.String(),
		"maxFeePerGas", fees.MaxFeePerGas.String(),
	)
	*current = next
}

// freshNonce draws a random nonce key and a random nonce. The pair only
// has to be unique within the validity window; the expiring-nonce scheme takes
// care of the rest.
func freshNonce() ([32]byte, uint64, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, 0, err
	}
	var nonceBytes [8]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return key, 0, err
	}
	return key, binary.BigEndian.Uint64(nonceBytes[:]), nil
}
