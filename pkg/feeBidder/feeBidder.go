package feeBidder

import (
	"context"
	"math/big"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// NetworkFeeSource supplies network-suggested fees. Implemented by the chain
// reader; faked in tests.
type NetworkFeeSource interface {
	SuggestFees(ctx context.Context) (Eip1559Fees, error)
}

// Bidder computes fee bids for session calls: network suggestion, raised to
// the relay floor for sponsored calls, raised again to the per-address bid
// memory, and aggressively bumped on underpriced-replacement rejections.
type Bidder struct {
	source NetworkFeeSource
	memory *BidMemory
	logger *zap.Logger
}

func NewBidder(source NetworkFeeSource, memory *BidMemory, logger *zap.Logger) *Bidder {
	return &Bidder{
		source: source,
		memory: memory,
		logger: logger,
	}
}

// Memory exposes the injected bid memory, shared with the orchestrator.
func (b *Bidder) Memory() *BidMemory {
	return b.memory
}

// InitialBid computes the first bid for a submission. A failed fee suggestion
// falls back to the relay floor tier rather than aborting; the floor is a
// workable bid on the target network.
func (b *Bidder) InitialBid(ctx context.Context, sender common.Address, mode types.FeeMode) Eip1559Fees {
	suggested, err := b.source.SuggestFees(ctx)
	if err != nil {
		b.logger.Sugar().Warnw("InitialBid: cannot get suggested fees, using relay floor",
			zap.Error(err),
		)
		suggested = NewFees(0, 0)
	}

	bid := WithRelayMinimumFeeFloor(suggested)
	if mode == types.FeeModeSelfPaid {
		// Self-paid calls skip the relay floor but keep the suggestion and the
		// max >= priority + 1 invariant.
		bid = suggested.Clone()
		bid.MaxFeePerGas = maxBig(bid.MaxFeePerGas, SaturatingAdd(bid.MaxPriorityFeePerGas, big.NewInt(1)))
	}

	bid = b.memory.WithAddressBidFloor(sender, bid)
	b.memory.RememberBid(sender, bid)

	b.logger.Sugar().Debugw("InitialBid",
		"sender", sender.Hex(),
		"feeMode", mode.String(),
		"maxPriorityFeePerGas", bid.MaxPriorityFeePerGas.String(),
		"maxFeePerGas", bid.MaxFeePerGas.String(),
	)
	return bid
}

// RebidAfterUnderpriced bumps the current bid after the network rejected it as
// an underpriced replacement, floors it against the bid memory, and records
// the result.
func (b *Bidder) RebidAfterUnderpriced(sender common.Address, current Eip1559Fees) Eip1559Fees {
	bumped := AggressivelyBumpFees(current)
	bumped = b.memory.WithAddressBidFloor(sender, bumped)
	b.memory.RememberBid(sender, bumped)

	b.logger.Sugar().Infow("RebidAfterUnderpriced: bumped fees",
		"sender", sender.Hex(),
		"oldMaxPriorityFeePerGas", current.MaxPriorityFeePerGas.String(),
		"newMaxPriorityFeePerGas", bumped.MaxPriorityFeePerGas.String(),
		"oldMaxFeePerGas", current.MaxFeePerGas.String(),
		"newMaxFeePerGas", bumped.MaxFeePerGas.String(),
	)
	return bumped
}
