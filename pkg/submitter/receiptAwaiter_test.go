package submitter

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAwaiter(reader *fakeReader) *ReceiptAwaiter {
	return &ReceiptAwaiter{
		reader:       reader,
		logger:       zap.NewNop(),
		pollInterval: time.Millisecond,
		gracePeriod:  50 * time.Millisecond,
		now:          time.Now,
	}
}

func receiptWithStatus(status uint64) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status:      status,
		GasUsed:     21_000,
		BlockNumber: big.NewInt(100),
	}
}

func TestAwait_Confirmed(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x01")
	reader.receipts[hash] = receiptWithStatus(1)

	awaiter := newTestAwaiter(reader)
	validBefore := uint64(time.Now().Add(5 * time.Second).Unix())

	err := awaiter.Await(context.Background(), hash, validBefore)
	require.NoError(t, err)
}

func TestAwait_OnChainRevertCarriesHash(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x02")
	reader.receipts[hash] = receiptWithStatus(0)

	awaiter := newTestAwaiter(reader)
	validBefore := uint64(time.Now().Add(5 * time.Second).Unix())

	err := awaiter.Await(context.Background(), hash, validBefore)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindOnChainRevert))
	assert.Equal(t, hash.Hex(), types.TxHashOf(err))
}

func TestAwait_DroppedBeforeInclusion(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x03")
	// No receipt and the network no longer knows the hash.

	awaiter := newTestAwaiter(reader)
	expiredValidBefore := uint64(time.Now().Add(-time.Minute).Unix())

	err := awaiter.Await(context.Background(), hash, expiredValidBefore)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindDroppedBeforeInclusion))
	assert.Equal(t, hash.Hex(), types.TxHashOf(err))
}

func TestAwait_NotConfirmedBeforeExpiry(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x04")
	reader.known[hash] = true // still pending, never mined

	awaiter := newTestAwaiter(reader)
	expiredValidBefore := uint64(time.Now().Add(-time.Minute).Unix())

	err := awaiter.Await(context.Background(), hash, expiredValidBefore)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindNotConfirmedBeforeExpiry))
	assert.Equal(t, hash.Hex(), types.TxHashOf(err))
}

func TestAwait_MinedDuringGraceRecheck(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x05")
	reader.known[hash] = true
	// The receipt shows up only on the extra post-deadline poll.
	reader.receipts[hash] = receiptWithStatus(1)

	awaiter := newTestAwaiter(reader)
	expiredValidBefore := uint64(time.Now().Add(-time.Minute).Unix())

	err := awaiter.Await(context.Background(), hash, expiredValidBefore)
	require.NoError(t, err)
}

func TestAwait_ContextCancellation(t *testing.T) {
	reader := newFakeReader()
	hash := common.HexToHash("0x06")

	awaiter := newTestAwaiter(reader)
	awaiter.pollInterval = time.Hour // force a long limiter wait

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := awaiter.Await(ctx, hash, uint64(time.Now().Add(time.Hour).Unix()))
	require.ErrorIs(t, err, context.Canceled)
}
