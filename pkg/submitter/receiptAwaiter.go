package submitter

import (
	"context"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/chainReader"
	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReceiptAwaiter polls for inclusion of an accepted hash. The timeout is
// derived from the transaction's own expiry window plus a grace period, since
// nothing can be mined after the window closes.
type ReceiptAwaiter struct {
	reader chainReader.IChainReader
	logger *zap.Logger

	pollInterval time.Duration
	gracePeriod  time.Duration
	now          func() time.Time
}

func NewReceiptAwaiter(reader chainReader.IChainReader, logger *zap.Logger) *ReceiptAwaiter {
	return &ReceiptAwaiter{
		reader:       reader,
		logger:       logger,
		pollInterval: config.ReceiptPollInterval,
		gracePeriod:  config.ReceiptGracePeriod,
		now:          time.Now,
	}
}

// Await blocks until the transaction confirms, reverts, or its expiry window
// (plus grace) passes. Outcomes:
//   - receipt with success status: nil
//   - receipt with failure status: OnChainRevert carrying the hash
//   - no receipt, network no longer knows the hash: DroppedBeforeInclusion
//   - no receipt, still pending after one extra grace check: NotConfirmedBeforeExpiry
func (a *ReceiptAwaiter) Await(ctx context.Context, txHash common.Hash, validBeforeSec uint64) error {
	deadline := time.Unix(int64(validBeforeSec), 0).Add(a.gracePeriod)
	limiter := rate.NewLimiter(rate.Every(a.pollInterval), 1)

	for a.now().Before(deadline) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		done, err := a.checkOnce(ctx, txHash)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	known, err := a.reader.HasTransaction(ctx, txHash)
	if err != nil {
		return err
	}
	if !known {
		// The network dropped the transaction entirely. Not retryable here:
		// the caller must resubmit from scratch with a fresh nonce and
		// expiry.
		return &types.EngineError{
			Kind:   types.ErrorKindDroppedBeforeInclusion,
			TxHash: txHash.Hex(),
			Msg:    "transaction no longer known to the network",
		}
	}

	// Still pending at the deadline; give it one more poll interval before
	// giving up.
	if err := sleepCtx(ctx, a.pollInterval); err != nil {
		return err
	}
	done, err := a.checkOnce(ctx, txHash)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	return &types.EngineError{
		Kind:   types.ErrorKindNotConfirmedBeforeExpiry,
		TxHash: txHash.Hex(),
		Msg:    "transaction still pending past its validity window",
	}
}

// checkOnce polls the receipt once. Returns true when the transaction
// confirmed, an error when it reverted or the poll failed, and (false, nil)
// when it is still pending.
func (a *ReceiptAwaiter) checkOnce(ctx context.Context, txHash common.Hash) (bool, error) {
	receipt, err := a.reader.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != 1 {
		a.logger.Sugar().Errorw("transaction reverted on-chain",
			"txHash", txHash.Hex(),
			"gasUsed", receipt.GasUsed,
			"blockNumber", receipt.BlockNumber.Uint64(),
		)
		return false, &types.EngineError{
			Kind:   types.ErrorKindOnChainRevert,
			TxHash: txHash.Hex(),
			Msg:    "transaction reverted",
		}
	}

	a.logger.Sugar().Infow("transaction confirmed",
		"txHash", txHash.Hex(),
		"gasUsed", receipt.GasUsed,
		"blockNumber", receipt.BlockNumber.Uint64(),
	)
	return true, nil
}
