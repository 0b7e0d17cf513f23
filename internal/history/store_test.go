package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/callsig/internal/signaling"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHasRecentCallRecordLookback(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	for id := signaling.CallID(1); id <= 6; id++ {
		_, err := s.Add(ctx, Record{Peer: "alice", CallID: id, Outcome: OutcomeCompleted, At: at})
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, Record{Peer: "bob", CallID: 1, Outcome: OutcomeMissed, At: at})
	require.NoError(t, err)

	found, err := s.HasRecentCallRecord(ctx, "alice", 6, 4)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.HasRecentCallRecord(ctx, "alice", 3, 4)
	require.NoError(t, err)
	assert.True(t, found)

	// Older than the last four records for alice.
	found, err = s.HasRecentCallRecord(ctx, "alice", 2, 4)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.HasRecentCallRecord(ctx, "carol", 1, 4)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.HasRecentCallRecord(ctx, "alice", 6, 0)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Add(ctx, Record{Peer: "alice", CallID: signaling.NoCallID, Outcome: OutcomeMissed, At: at})
	require.NoError(t, err)
	found, err = s.HasRecentCallRecord(ctx, "alice", signaling.NoCallID, 4)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecentRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.UnixMilli(1767600000000)

	big := signaling.CallID(math.MaxUint64 - 1)
	_, err := s.Add(ctx, Record{
		Peer:     "alice",
		CallID:   big,
		Outcome:  OutcomeCompleted,
		Incoming: true,
		Duration: 42 * time.Second,
		At:       at,
	})
	require.NoError(t, err)
	_, err = s.Add(ctx, Record{Peer: "bob", CallID: 5, Outcome: OutcomeAborted, Reason: signaling.ReasonBusy, At: at})
	require.NoError(t, err)

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[0].Peer)
	assert.Equal(t, signaling.ReasonBusy, all[0].Reason)

	alice, err := s.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, big, alice[0].CallID)
	assert.True(t, alice[0].Incoming)
	assert.Equal(t, 42*time.Second, alice[0].Duration)
	assert.True(t, at.Equal(alice[0].At))

	found, err := s.HasRecentCallRecord(ctx, "alice", big, 4)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Add(context.Background(), Record{Peer: "alice", CallID: 1, Outcome: OutcomeMissed, At: time.Now()})
	assert.NoError(t, err)
}
