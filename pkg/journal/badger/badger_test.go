package badger

import (
	"testing"

	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestJournal(t *testing.T) *BadgerJournal {
	t.Helper()
	bj, err := NewBadgerJournal(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bj.Close() })
	return bj
}

func TestBadgerJournal_RecordAndGet(t *testing.T) {
	bj := newTestJournal(t)

	attempt := &journal.Attempt{
		ID:      "attempt-1",
		Sender:  "0x2222222222222222222222222222222222222222",
		TxHash:  "0xdef",
		FeeMode: "self-paid",
		Outcome: "failed",
	}
	require.NoError(t, bj.RecordAttempt(attempt))

	loaded, err := bj.GetAttempt("attempt-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, attempt.Sender, loaded.Sender)
	assert.Equal(t, attempt.FeeMode, loaded.FeeMode)
}

func TestBadgerJournal_GetMissingReturnsNil(t *testing.T) {
	bj := newTestJournal(t)

	loaded, err := bj.GetAttempt("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerJournal_ListSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	bj, err := NewBadgerJournal(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, bj.RecordAttempt(&journal.Attempt{ID: "a", Outcome: "confirmed", CreatedAtUnix: 1}))
	require.NoError(t, bj.RecordAttempt(&journal.Attempt{ID: "b", Outcome: "failed", CreatedAtUnix: 2}))
	require.NoError(t, bj.Close())

	reopened, err := NewBadgerJournal(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	attempts, err := reopened.ListAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "a", attempts[0].ID)
	assert.Equal(t, "b", attempts[1].ID)
}

func TestBadgerJournal_CloseIsIdempotent(t *testing.T) {
	bj, err := NewBadgerJournal(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, bj.Close())
	require.NoError(t, bj.Close())
	require.Error(t, bj.HealthCheck())
}
