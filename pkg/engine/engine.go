// Package engine is the caller-facing surface: it turns a play event into a
// confirmed registry transaction, choosing the call path, the payment path,
// and the signer along the way.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/echofm-labs/scrobble-engine-go/pkg/chainReader"
	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/feeBidder"
	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
	"github.com/echofm-labs/scrobble-engine-go/pkg/relayClient"
	"github.com/echofm-labs/scrobble-engine-go/pkg/scrobbleRegistry"
	"github.com/echofm-labs/scrobble-engine-go/pkg/submitter"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/echofm-labs/scrobble-engine-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ICallSubmitter is the submission port consumed by the engine.
type ICallSubmitter interface {
	Submit(ctx context.Context, req *submitter.Request) (*submitter.Submitted, error)
}

// IReceiptAwaiter is the confirmation port consumed by the engine.
type IReceiptAwaiter interface {
	Await(ctx context.Context, txHash common.Hash, validBeforeSec uint64) error
}

// ICapabilityProbe is the optional-function detection port.
type ICapabilityProbe interface {
	SupportsSelector(ctx context.Context, contract common.Address, selector [4]byte) (bool, error)
}

// Engine is one logical submitter. A single mutex serializes the whole
// build, sign, submit, confirm sequence so two concurrent submissions can
// never race on fee or nonce state; the second caller waits.
type Engine struct {
	chainID   uint64
	registry  common.Address
	reader    chainReader.IChainReader
	probe     ICapabilityProbe
	relay     relayClient.IRelayClient
	encoder   *scrobbleRegistry.Encoder
	submitter ICallSubmitter
	awaiter   IReceiptAwaiter
	bidder    *feeBidder.Bidder
	signers   SignerPolicy
	journal   journal.ISubmissionJournal
	logger    *zap.Logger

	mu sync.Mutex
}

// NewEngine dials the chain endpoint, verifies the chain id, and wires up a
// full engine. The chain-id check is done once here: a mismatched endpoint
// fails construction with a WrongChain error instead of producing signatures
// for the wrong network.
func NewEngine(
	ctx context.Context,
	cfg *config.EngineConfig,
	signers SignerPolicy,
	jrnl journal.ISubmissionJournal,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if err := signers.validate(); err != nil {
		return nil, err
	}

	reader, err := chainReader.NewChainReader(cfg.RpcUrl, logger)
	if err != nil {
		return nil, err
	}

	remoteChainID, err := reader.GetChainID(ctx)
	if err != nil {
		return nil, err
	}
	if remoteChainID != uint64(cfg.ChainID) {
		return nil, types.NewEngineError(types.ErrorKindWrongChain,
			"endpoint serves chain %d, configured for chain %d", remoteChainID, cfg.ChainID)
	}

	relay, err := relayClient.NewRelayClient(&cfg.Relay, logger)
	if err != nil {
		return nil, err
	}

	encoder, err := scrobbleRegistry.NewEncoder()
	if err != nil {
		return nil, err
	}

	bidder := feeBidder.NewBidder(reader, feeBidder.NewBidMemory(), logger)

	return &Engine{
		chainID:   uint64(cfg.ChainID),
		registry:  cfg.RegistryAddress,
		reader:    reader,
		probe:     chainReader.NewCapabilityProbe(reader, logger),
		relay:     relay,
		encoder:   encoder,
		submitter: submitter.NewSubmitter(uint64(cfg.ChainID), reader, relay, bidder, logger),
		awaiter:   submitter.NewReceiptAwaiter(reader, logger),
		bidder:    bidder,
		signers:   signers,
		journal:   jrnl,
		logger:    logger,
	}, nil
}

// NewEngineFromParts assembles an engine from pre-built collaborators.
// Used by tests to inject fakes through the engine's ports.
func NewEngineFromParts(
	chainID uint64,
	registry common.Address,
	reader chainReader.IChainReader,
	probe ICapabilityProbe,
	relay relayClient.IRelayClient,
	encoder *scrobbleRegistry.Encoder,
	sub ICallSubmitter,
	awaiter IReceiptAwaiter,
	bidder *feeBidder.Bidder,
	signers SignerPolicy,
	jrnl journal.ISubmissionJournal,
	logger *zap.Logger,
) (*Engine, error) {
	if err := signers.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		chainID:   chainID,
		registry:  registry,
		reader:    reader,
		probe:     probe,
		relay:     relay,
		encoder:   encoder,
		submitter: sub,
		awaiter:   awaiter,
		bidder:    bidder,
		signers:   signers,
		journal:   jrnl,
		logger:    logger,
	}, nil
}

// SubmitScrobble records one play event. If the track is not yet registered it
// takes the combined register-and-record path, otherwise the plain record
// path; the choice is reported via UsedRegisterPath. The returned result is
// always populated, success or not.
func (e *Engine) SubmitScrobble(ctx context.Context, s types.Scrobble) (*types.SubmissionResult, error) {
	if err := validateScrobble(s); err != nil {
		return failureResult(err, false, false), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trackID := scrobbleRegistry.TrackID(s)
	registered, err := e.isTrackRegistered(ctx, trackID)
	if err != nil {
		return failureResult(err, false, false), err
	}

	var input []byte
	if registered {
		input, err = e.encoder.EncodeRecordPlay(trackID, s.PlayedAtSec)
	} else {
		input, err = e.encoder.EncodeRegisterAndRecordPlay(s)
	}
	if err != nil {
		err = types.WrapEngineError(types.ErrorKindInvalidInput, err, "failed to encode scrobble")
		return failureResult(err, !registered, false), err
	}

	e.logger.Sugar().Infow("submitting scrobble",
		"title", s.Title,
		"artist", s.Artist,
		"trackId", common.Bytes2Hex(trackID[:]),
		"usedRegisterPath", !registered,
	)

	sub, confirmed, err := e.submitWithSignerPolicy(ctx, []types.Call{{
		To:    e.registry,
		Value: big.NewInt(0),
		Input: input,
	}})
	e.recordAttempt(sub, !registered, err)
	if err != nil {
		return failureResult(err, !registered, sub != nil && sub.UsedSelfPayFallback), err
	}

	return &types.SubmissionResult{
		Success:             true,
		TxHash:              sub.TxHash.Hex(),
		UsedSelfPayFallback: sub.UsedSelfPayFallback,
		UsedRegisterPath:    !registered,
		Confirmed:           confirmed,
	}, nil
}

// SubmitScrobbleBatch records several play events in one session call. Tracks
// not yet registered get a registerTrack call prepended; all plays then go
// through one recordPlayBatch call.
func (e *Engine) SubmitScrobbleBatch(ctx context.Context, scrobbles []types.Scrobble) (*types.SubmissionResult, error) {
	if len(scrobbles) == 0 {
		err := types.NewEngineError(types.ErrorKindInvalidInput, "empty scrobble batch")
		return failureResult(err, false, false), err
	}
	for i, s := range scrobbles {
		if err := validateScrobble(s); err != nil {
			err = types.WrapEngineError(types.ErrorKindInvalidInput, err, "scrobble %d", i)
			return failureResult(err, false, false), err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trackIDs := util.Map(scrobbles, func(s types.Scrobble) [32]byte { return scrobbleRegistry.TrackID(s) })
	playedAts := util.Map(scrobbles, func(s types.Scrobble) uint64 { return s.PlayedAtSec })

	var calls []types.Call
	usedRegisterPath := false
	seen := make(map[[32]byte]bool)

	for i, s := range scrobbles {
		trackID := trackIDs[i]
		if seen[trackID] {
			continue
		}
		seen[trackID] = true

		registered, err := e.isTrackRegistered(ctx, trackID)
		if err != nil {
			return failureResult(err, usedRegisterPath, false), err
		}
		if registered {
			continue
		}
		input, err := e.encoder.EncodeRegisterTrack(s)
		if err != nil {
			err = types.WrapEngineError(types.ErrorKindInvalidInput, err, "failed to encode track registration")
			return failureResult(err, usedRegisterPath, false), err
		}
		usedRegisterPath = true
		calls = append(calls, types.Call{To: e.registry, Value: big.NewInt(0), Input: input})
	}

	batchInput, err := e.encoder.EncodeRecordPlayBatch(trackIDs, playedAts)
	if err != nil {
		err = types.WrapEngineError(types.ErrorKindInvalidInput, err, "failed to encode play batch")
		return failureResult(err, usedRegisterPath, false), err
	}
	calls = append(calls, types.Call{To: e.registry, Value: big.NewInt(0), Input: batchInput})

	e.logger.Sugar().Infow("submitting scrobble batch",
		"plays", len(scrobbles),
		"registrations", len(calls)-1,
	)

	sub, confirmed, err := e.submitWithSignerPolicy(ctx, calls)
	e.recordAttempt(sub, usedRegisterPath, err)
	if err != nil {
		return failureResult(err, usedRegisterPath, sub != nil && sub.UsedSelfPayFallback), err
	}

	return &types.SubmissionResult{
		Success:             true,
		TxHash:              sub.TxHash.Hex(),
		UsedSelfPayFallback: sub.UsedSelfPayFallback,
		UsedRegisterPath:    usedRegisterPath,
		Confirmed:           confirmed,
	}, nil
}

// SyncCoverArtRef points the track's cover-art reference at ref. The setter is
// optional per registry deployment; when absent the call is skipped and the
// result carries no transaction hash. Returns the resolved reference string.
func (e *Engine) SyncCoverArtRef(ctx context.Context, s types.Scrobble, ref string) (string, *types.SubmissionResult, error) {
	return e.syncMetadataRef(ctx, s, ref, scrobbleRegistry.MethodSetCoverArtRef, e.encoder.EncodeSetCoverArtRef)
}

// SyncLyricsRef points the track's lyrics reference at ref. Same optionality
// rules as SyncCoverArtRef.
func (e *Engine) SyncLyricsRef(ctx context.Context, s types.Scrobble, ref string) (string, *types.SubmissionResult, error) {
	return e.syncMetadataRef(ctx, s, ref, scrobbleRegistry.MethodSetLyricsRef, e.encoder.EncodeSetLyricsRef)
}

func (e *Engine) syncMetadataRef(
	ctx context.Context,
	s types.Scrobble,
	ref string,
	method string,
	encode func([32]byte, string) ([]byte, error),
) (string, *types.SubmissionResult, error) {
	resolved := strings.TrimSpace(ref)
	if resolved == "" {
		err := types.NewEngineError(types.ErrorKindInvalidInput, "empty content reference")
		return "", failureResult(err, false, false), err
	}
	if err := validateScrobble(s); err != nil {
		return resolved, failureResult(err, false, false), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	selector, err := e.encoder.Selector(method)
	if err != nil {
		return resolved, failureResult(err, false, false), err
	}
	supported, err := e.probe.SupportsSelector(ctx, e.registry, selector)
	if err != nil {
		return resolved, failureResult(err, false, false), err
	}
	if !supported {
		// Deployed registry predates this setter. Skipping is the designed
		// behavior, reported through the absent tx hash.
		e.logger.Sugar().Infow("registry does not support metadata setter, skipping",
			"method", method,
			"registry", e.registry.Hex(),
		)
		return resolved, &types.SubmissionResult{Success: true}, nil
	}

	trackID := scrobbleRegistry.TrackID(s)
	input, err := encode(trackID, resolved)
	if err != nil {
		err = types.WrapEngineError(types.ErrorKindInvalidInput, err, "failed to encode %s", method)
		return resolved, failureResult(err, false, false), err
	}

	sub, confirmed, err := e.submitWithSignerPolicy(ctx, []types.Call{{
		To:    e.registry,
		Value: big.NewInt(0),
		Input: input,
	}})
	e.recordAttempt(sub, false, err)
	if err != nil {
		return resolved, failureResult(err, false, sub != nil && sub.UsedSelfPayFallback), err
	}

	return resolved, &types.SubmissionResult{
		Success:             true,
		TxHash:              sub.TxHash.Hex(),
		UsedSelfPayFallback: sub.UsedSelfPayFallback,
		Confirmed:           confirmed,
	}, nil
}

// IsTrackRegistered reports whether the registry already knows the track.
func (e *Engine) IsTrackRegistered(ctx context.Context, s types.Scrobble) (bool, error) {
	return e.isTrackRegistered(ctx, scrobbleRegistry.TrackID(s))
}

func (e *Engine) isTrackRegistered(ctx context.Context, trackID [32]byte) (bool, error) {
	input, err := e.encoder.EncodeIsTrackRegistered(trackID)
	if err != nil {
		return false, err
	}
	out, err := e.reader.Call(ctx, e.registry, input)
	if err != nil {
		return false, err
	}
	return e.encoder.DecodeIsTrackRegistered(out)
}

func validateScrobble(s types.Scrobble) error {
	if strings.TrimSpace(s.Title) == "" {
		return types.NewEngineError(types.ErrorKindInvalidInput, "scrobble title cannot be empty")
	}
	if s.PlayedAtSec == 0 {
		return types.NewEngineError(types.ErrorKindInvalidInput, "scrobble playedAt cannot be zero")
	}
	return nil
}

func (e *Engine) recordAttempt(sub *types.SessionCallSubmission, usedRegisterPath bool, submitErr error) {
	if e.journal == nil {
		return
	}

	attempt := &journal.Attempt{
		ID:               uuid.NewString(),
		UsedRegisterPath: usedRegisterPath,
	}
	if signer := e.signers.current(); signer != nil {
		sender := signer.PublicIdentity()
		attempt.Sender = sender.Hex()
		if fees, ok := e.bidder.Memory().RememberedBid(sender); ok {
			attempt.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas.String()
			attempt.MaxFeePerGas = fees.MaxFeePerGas.String()
		}
	}
	if sub != nil {
		attempt.TxHash = sub.TxHash.Hex()
		if sub.UsedSelfPayFallback {
			attempt.FeeMode = types.FeeModeSelfPaid.String()
		} else {
			attempt.FeeMode = types.FeeModeRelaySponsored.String()
		}
	}
	if submitErr != nil {
		attempt.Outcome = "failed"
		attempt.ErrorKind = types.KindOf(submitErr).String()
		attempt.ErrorDetail = submitErr.Error()
	} else {
		attempt.Outcome = "confirmed"
	}

	if err := e.journal.RecordAttempt(attempt); err != nil {
		// The journal is diagnostic only; a journal failure never fails a
		// submission.
		e.logger.Sugar().Warnw("failed to record submission attempt", "error", err)
	}
}

func failureResult(err error, usedRegisterPath, usedSelfPay bool) *types.SubmissionResult {
	return &types.SubmissionResult{
		Success:             false,
		TxHash:              types.TxHashOf(err),
		ErrorKind:           types.KindOf(err),
		ErrorDetail:         err.Error(),
		UsedRegisterPath:    usedRegisterPath,
		UsedSelfPayFallback: usedSelfPay,
	}
}
