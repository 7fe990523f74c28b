package submitter

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/config"
	"github.com/echofm-labs/scrobble-engine-go/pkg/feeBidder"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey/sessionKeySigner"
	"github.com/echofm-labs/scrobble-engine-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader serves gas estimates and fee suggestions without a network.
type fakeReader struct {
	gasPerCall uint64
	fees       feeBidder.Eip1559Fees

	receipts map[common.Hash]*gethtypes.Receipt
	known    map[common.Hash]bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		gasPerCall: 50_000,
		fees:       feeBidder.NewFees(1_000_000, 2_000_000),
		receipts:   make(map[common.Hash]*gethtypes.Receipt),
		known:      make(map[common.Hash]bool),
	}
}

func (f *fakeReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, nil
}

func (f *fakeReader) EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	return f.gasPerCall, nil
}

func (f *fakeReader) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return nil, nil
}

func (f *fakeReader) GetChainID(ctx context.Context) (uint64, error) {
	return uint64(config.ChainId_Anvil), nil
}

func (f *fakeReader) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return f.receipts[hash], nil
}

func (f *fakeReader) HasTransaction(ctx context.Context, hash common.Hash) (bool, error) {
	return f.known[hash], nil
}

func (f *fakeReader) SuggestFees(ctx context.Context) (feeBidder.Eip1559Fees, error) {
	return f.fees.Clone(), nil
}

// fakeRelay scripts per-attempt outcomes and records every submitted call.
type fakeRelay struct {
	// errs[i] is returned for attempt i; attempts beyond the script succeed.
	errs      []error
	submitted []*types.SignedSessionCall
	selfPaid  []*types.SignedSessionCall
	funded    []common.Address
}

func (f *fakeRelay) SubmitSponsoredCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error) {
	f.submitted = append(f.submitted, signed)
	if n := len(f.submitted) - 1; n < len(f.errs) && f.errs[n] != nil {
		return common.Hash{}, f.errs[n]
	}
	return common.HexToHash("0xabc123"), nil
}

func (f *fakeRelay) SubmitCall(ctx context.Context, signed *types.SignedSessionCall) (common.Hash, error) {
	f.selfPaid = append(f.selfPaid, signed)
	return common.HexToHash("0xdef456"), nil
}

func (f *fakeRelay) FundAddress(ctx context.Context, addr common.Address) error {
	f.funded = append(f.funded, addr)
	return nil
}

func underpricedErr() error {
	return types.NewEngineError(types.ErrorKindUnderpricedReplacement, "replacement transaction underpriced")
}

func newTestSubmitter(t *testing.T, relay *fakeRelay) (*Submitter, signingKey.SigningKey) {
	t.Helper()
	reader := newFakeReader()
	bidder := feeBidder.NewBidder(reader, feeBidder.NewBidMemory(), zap.NewNop())
	s := NewSubmitter(uint64(config.ChainId_Anvil), reader, relay, bidder, zap.NewNop())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	signer, err := sessionKeySigner.GenerateSessionKeySigner(zap.NewNop())
	require.NoError(t, err)
	return s, signer
}

func submitRequest(signer signingKey.SigningKey) *Request {
	return &Request{
		Calls: []types.Call{{
			To:    common.HexToAddress("0x99"),
			Value: big.NewInt(0),
			Input: []byte{0x01, 0x02, 0x03, 0x04},
		}},
		FeeMode: types.FeeModeRelaySponsored,
		Signer:  signer,
	}
}

func TestSubmit_FirstAttemptAccepted(t *testing.T) {
	relay := &fakeRelay{}
	s, signer := newTestSubmitter(t, relay)

	out, err := s.Submit(context.Background(), submitRequest(signer))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc123"), out.TxHash)
	assert.Len(t, relay.submitted, 1)

	// Gas limit carries the estimation buffer.
	assert.Equal(t, uint64(60_000), relay.submitted[0].Call.GasLimit)

	// Expiry is bound to the fixed window.
	now := uint64(time.Now().Unix())
	assert.InDelta(t, now+uint64(config.ExpiryWindow/time.Second), out.ValidBeforeSec, 5)
}

func TestSubmit_UnderpricedThriceThenAccepted(t *testing.T) {
	relay := &fakeRelay{errs: []error{underpricedErr(), underpricedErr(), underpricedErr()}}
	s, signer := newTestSubmitter(t, relay)

	out, err := s.Submit(context.Background(), submitRequest(signer))
	require.NoError(t, err)
	require.Len(t, relay.submitted, 4)

	// Fees strictly increase attempt over attempt, and every attempt carries a
	// signature over its own fee tier.
	for i := 1; i < len(relay.submitted); i++ {
		prev := relay.submitted[i-1].Call
		cur := relay.submitted[i].Call
		assert.Equal(t, 1, cur.MaxPriorityFeePerGas.Cmp(prev.MaxPriorityFeePerGas),
			"attempt %d priority must exceed attempt %d", i+1, i)
		assert.Equal(t, 1, cur.MaxFeePerGas.Cmp(prev.MaxFeePerGas),
			"attempt %d max fee must exceed attempt %d", i+1, i)
		assert.NotEqual(t, relay.submitted[i-1].Signature, relay.submitted[i].Signature)
	}
	assert.Equal(t, common.HexToHash("0xabc123"), out.TxHash)
}

func TestSubmit_SignatureMatchesFinalFeeTier(t *testing.T) {
	relay := &fakeRelay{errs: []error{underpricedErr()}}
	s, signer := newTestSubmitter(t, relay)

	_, err := s.Submit(context.Background(), submitRequest(signer))
	require.NoError(t, err)
	require.Len(t, relay.submitted, 2)

	// The accepted submission's signature must verify over the digest of the
	// re-bid call, not the original one.
	final := relay.submitted[1]
	digest := final.Call.SigningHash(uint64(config.ChainId_Anvil))
	sig := &signingKey.Signature{RecoveryID: final.Signature[64]}
	copy(sig.R[:], final.Signature[:32])
	copy(sig.S[:], final.Signature[32:64])

	recovered, err := signingKey.RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.PublicIdentity(), recovered)
}

func TestSubmit_NonUnderpricedErrorIsFatal(t *testing.T) {
	fatal := types.NewEngineError(types.ErrorKindRPCResponse, "execution reverted")
	relay := &fakeRelay{errs: []error{fatal, nil}}
	s, signer := newTestSubmitter(t, relay)

	_, err := s.Submit(context.Background(), submitRequest(signer))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindRPCResponse))
	assert.Len(t, relay.submitted, 1, "no retry on a fatal classification")
}

func TestSubmit_ExhaustionYieldsReplacementRejected(t *testing.T) {
	errs := make([]error, config.MaxUnderpricedRetries+1)
	for i := range errs {
		errs[i] = underpricedErr()
	}
	relay := &fakeRelay{errs: errs}
	s, signer := newTestSubmitter(t, relay)

	_, err := s.Submit(context.Background(), submitRequest(signer))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindReplacementRejected))
	assert.Len(t, relay.submitted, config.MaxUnderpricedRetries+1)
}

func TestSubmit_EmptyCallsRejected(t *testing.T) {
	s, signer := newTestSubmitter(t, &fakeRelay{})
	_, err := s.Submit(context.Background(), &Request{Signer: signer})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindInvalidInput))
}

func TestSubmit_SelfPaidUsesDirectEndpoint(t *testing.T) {
	relay := &fakeRelay{}
	s, signer := newTestSubmitter(t, relay)

	req := submitRequest(signer)
	req.FeeMode = types.FeeModeSelfPaid

	out, err := s.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xdef456"), out.TxHash)
	assert.Empty(t, relay.submitted)
	require.Len(t, relay.selfPaid, 1)
	assert.Equal(t, types.FeeModeSelfPaid, relay.selfPaid[0].Call.FeeMode)
}

func TestSubmit_AttachesKeyAuthorization(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestSubmitter(t, relay)

	signer, err := sessionKeySigner.GenerateSessionKeySigner(zap.NewNop())
	require.NoError(t, err)
	auth := []byte{0xde, 0xad, 0xbe, 0xef}
	signer.SetKeyAuthorization(auth)

	_, err = s.Submit(context.Background(), submitRequest(signer))
	require.NoError(t, err)
	require.Len(t, relay.submitted, 1)
	assert.Equal(t, auth, relay.submitted[0].Call.KeyAuthorization)
}
