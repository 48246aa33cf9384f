package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForUserReturnsSameManager(t *testing.T) {
	feed := newFakeFeed()
	r := NewSyncRegistry(feed)
	defer r.Stop()

	started := 0
	r.OnStart = func(*SyncService) { started++ }

	m := r.ForUser("u1")
	assert.Same(t, m, r.ForUser("u1"))
	assert.Equal(t, 1, started, "OnStart fires once per manager")
	assert.Same(t, m, r.Peek("u1"))
	assert.Nil(t, r.Peek("u2"))
}

func TestForUserReconnectsDegradedManager(t *testing.T) {
	feed := newFakeFeed()
	r := NewSyncRegistry(feed)
	defer r.Stop()

	m := r.ForUser("u1")
	require.Equal(t, ConnectivityConnected, m.Connectivity().State)

	feed.hosted.events <- FeedEvent{Type: FeedEventError, Err: errors.New("stream closed")}
	require.Eventually(t, func() bool { return feed.closedCount() == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, ConnectivityError, m.Connectivity().State)

	// The next lookup revives the manager's feed subscriptions.
	revived := r.ForUser("u1")
	assert.Same(t, m, revived)
	assert.Equal(t, ConnectivityConnected, revived.Connectivity().State)
}
