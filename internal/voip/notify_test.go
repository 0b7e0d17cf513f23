package voip

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationsShowIsIdempotent(t *testing.T) {
	r := &fakeRenderer{}
	n := NewNotifications(r, zerolog.Nop())

	require.NoError(t, n.Show(IncomingCall{Peer: "alice", CallID: 1, Counter: 1}))
	require.NoError(t, n.Show(IncomingCall{Peer: "alice", CallID: 1, Counter: 1, Video: true}))
	assert.True(t, n.Active("alice"))

	n.mu.Lock()
	assert.Len(t, n.active, 1)
	assert.True(t, n.active["alice"].Video)
	n.mu.Unlock()
}

func TestNotificationsCancelRemovesOnce(t *testing.T) {
	r := &fakeRenderer{}
	n := NewNotifications(r, zerolog.Nop())

	require.NoError(t, n.Show(IncomingCall{Peer: "alice"}))
	assert.True(t, n.Cancel("alice", CancelHangup))
	assert.False(t, n.Cancel("alice", CancelTimeout))
	assert.False(t, n.Active("alice"))

	// Cleanup is attempted even for untracked peers.
	_, cancelled, fullScreen := r.counts()
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, 2, fullScreen)
}

func TestNotificationsWithoutRenderer(t *testing.T) {
	n := NewNotifications(nil, zerolog.Nop())
	require.NoError(t, n.Show(IncomingCall{Peer: "bob"}))
	assert.True(t, n.Cancel("bob", CancelRejected))
}
