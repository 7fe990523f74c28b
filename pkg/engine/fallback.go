package engine

import (
	"context"

	"github.com/echofm-labs/scrobble-engine-go/pkg/feeBidder"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/echofm-labs/scrobble-engine-go/pkg/submitter"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// SignerPolicy holds the signer tiers the engine can fall back through.
// The session key is the preferred background signer; it can go stale or be
// revoked. The interactive signer (passkey or custody service) is always
// authoritative but costs user-facing latency, so it is tried last.
type SignerPolicy struct {
	// Session is the lightweight delegated signer. Optional.
	Session signingKey.SigningKey

	// RefreshSession mints a replacement session key after an authorization
	// failure. Optional; used at most once per submission.
	RefreshSession func(ctx context.Context) (signingKey.SigningKey, error)

	// Interactive is the authoritative fallback signer. Optional, but either
	// Session or Interactive must be set.
	Interactive signingKey.SigningKey
}

func (p *SignerPolicy) validate() error {
	if p.Session == nil && p.Interactive == nil {
		return types.NewEngineError(types.ErrorKindInvalidInput, "signer policy needs a session or interactive signer")
	}
	return nil
}

// current returns the preferred signer under the current policy state.
// Signer state is only touched under the engine's submission mutex.
func (p *SignerPolicy) current() signingKey.SigningKey {
	if p.Session != nil {
		return p.Session
	}
	return p.Interactive
}

// submitWithSignerPolicy drives the three-tier signer fallback around one
// submission: (1) the current signer; (2) on an authorization failure, a
// refreshed session key, once; (3) the interactive signer. Non-authorization
// failures never rotate signers.
func (e *Engine) submitWithSignerPolicy(ctx context.Context, calls []types.Call) (*types.SessionCallSubmission, bool, error) {
	signer := e.signers.current()
	refreshed := false
	interactive := signer == e.signers.Interactive && e.signers.Session == nil

	for {
		sub, confirmed, err := e.submitAndConfirm(ctx, calls, signer)
		if err == nil || !types.IsKind(err, types.ErrorKindKeyAuthorization) || interactive {
			return sub, confirmed, err
		}

		if !refreshed && e.signers.RefreshSession != nil {
			refreshed = true
			fresh, rerr := e.signers.RefreshSession(ctx)
			if rerr == nil {
				e.logger.Sugar().Infow("session key rejected, retrying with refreshed key",
					"oldSigner", signer.PublicIdentity().Hex(),
					"newSigner", fresh.PublicIdentity().Hex(),
				)
				e.signers.Session = fresh
				signer = fresh
				continue
			}
			e.logger.Sugar().Warnw("session key refresh failed", "error", rerr)
		}

		if e.signers.Interactive != nil && signer != e.signers.Interactive {
			e.logger.Sugar().Infow("falling back to interactive signer",
				"signer", e.signers.Interactive.PublicIdentity().Hex(),
			)
			signer = e.signers.Interactive
			interactive = true
			continue
		}

		return sub, confirmed, err
	}
}

// selfPayEligible reports whether a sponsored-path failure warrants retrying
// on the sender's own balance. Caller errors, signer errors, and post-
// acceptance failures are not helped by paying for gas ourselves.
func selfPayEligible(err error) bool {
	switch types.KindOf(err) {
	case types.ErrorKindRPCUnreachable,
		types.ErrorKindRPCResponse,
		types.ErrorKindReplacementRejected:
		return true
	default:
		return false
	}
}

// submitAndConfirm runs one payment-path cycle: relay-sponsored first, and on
// an eligible relay failure a best-effort self-funding followed by a self-paid
// resubmission at aggressively bumped fees. Switching payment mode changes
// which fee floor applies, so the bump is recorded in the bid memory before
// the self-paid bid is computed.
func (e *Engine) submitAndConfirm(ctx context.Context, calls []types.Call, signer signingKey.SigningKey) (*types.SessionCallSubmission, bool, error) {
	sub, err := e.submitter.Submit(ctx, &submitter.Request{
		Calls:   calls,
		FeeMode: types.FeeModeRelaySponsored,
		Signer:  signer,
	})
	usedSelfPay := false
	if err != nil {
		if !selfPayEligible(err) {
			return nil, false, err
		}

		sender := signer.PublicIdentity()
		e.logger.Sugar().Warnw("sponsored submission failed, falling back to self-paid",
			"sender", sender.Hex(),
			"error", err,
		)

		if ferr := e.relay.FundAddress(ctx, sender); ferr != nil {
			// Best effort: the sender may already hold a balance.
			e.logger.Sugar().Warnw("self-funding failed, submitting on existing balance",
				"sender", sender.Hex(),
				"error", ferr,
			)
		}
		e.bumpRememberedBid(sender)

		sub, err = e.submitter.Submit(ctx, &submitter.Request{
			Calls:   calls,
			FeeMode: types.FeeModeSelfPaid,
			Signer:  signer,
		})
		if err != nil {
			return nil, false, err
		}
		usedSelfPay = true
	}

	result := &types.SessionCallSubmission{
		TxHash:              sub.TxHash,
		UsedSelfPayFallback: usedSelfPay,
	}
	if err := e.awaiter.Await(ctx, sub.TxHash, sub.ValidBeforeSec); err != nil {
		return result, false, err
	}
	return result, true, nil
}

// bumpRememberedBid raises the sender's bid memory so the self-paid bid starts
// above whatever tier the sponsored path already reached.
func (e *Engine) bumpRememberedBid(sender common.Address) {
	memory := e.bidder.Memory()
	if remembered, ok := memory.RememberedBid(sender); ok {
		memory.RememberBid(sender, feeBidder.AggressivelyBumpFees(remembered))
	}
}
