package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyup_server/models"
)

// fakeFeed is an in-memory PartyFeed. Tests push events directly onto the
// subscription channels it hands out.
type fakeFeed struct {
	mu             sync.Mutex
	partySubs      map[string]*FeedSubscription
	subscribeCalls map[string]int
	hosted         *FeedSubscription
	attending      *FeedSubscription
	hostedCalls    int
	attendingCalls int
	closed         int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		partySubs:      make(map[string]*FeedSubscription),
		subscribeCalls: make(map[string]int),
	}
}

func newFakeSub(partyID string) *FeedSubscription {
	return &FeedSubscription{
		partyID: partyID,
		events:  make(chan FeedEvent, 32),
		done:    make(chan struct{}),
	}
}

func (f *fakeFeed) Subscribe(partyID string) *FeedSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := newFakeSub(partyID)
	f.partySubs[partyID] = sub
	f.subscribeCalls[partyID]++
	return sub
}

func (f *fakeFeed) SubscribeHosted(userID string) *FeedSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosted = newFakeSub("")
	f.hostedCalls++
	return f.hosted
}

func (f *fakeFeed) SubscribeAttending(userID string) *FeedSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attending = newFakeSub("")
	f.attendingCalls++
	return f.attending
}

func (f *fakeFeed) Unsubscribe(sub *FeedSubscription) {
	sub.close()
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeFeed) sub(partyID string) *FeedSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partySubs[partyID]
}

func (f *fakeFeed) calls(partyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls[partyID]
}

func (f *fakeFeed) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func syncTestParty(partyID string, end time.Time, mutate func(*models.Party)) *models.Party {
	p := &models.Party{
		PartyID:          partyID,
		HostID:           "host",
		StartTime:        end.Add(-2 * time.Hour).Format(time.RFC3339),
		EndTime:          end.Format(time.RFC3339),
		GuestRequests:    []models.GuestRequest{},
		ActiveUsers:      []string{},
		RatingsSubmitted: map[string]models.Rating{},
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func waitTransition(t *testing.T, s *SyncService) StatusTransition {
	t.Helper()
	select {
	case tr := <-s.Events():
		return tr
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status transition")
		return StatusTransition{}
	}
}

func assertNoTransition(t *testing.T, s *SyncService) {
	t.Helper()
	select {
	case tr := <-s.Events():
		t.Fatalf("unexpected transition for party %s: %s -> %s", tr.PartyID, tr.Old, tr.New)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchIsIdempotent(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")

	s.Watch("p1")
	s.Watch("p1")
	assert.Equal(t, 1, feed.calls("p1"), "second Watch must not open a second subscription")
	assert.True(t, s.Watching("p1"))

	s.Unwatch("p1")
	assert.False(t, s.Watching("p1"))
	select {
	case <-feed.sub("p1").Done():
	default:
		t.Fatal("Unwatch must cancel the subscription")
	}
}

func TestSnapshotEmitsTransition(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")
	end := time.Now().UTC().Add(time.Hour)

	s.Watch("p1")
	paid := syncTestParty("p1", end, func(p *models.Party) {
		p.GuestRequests = []models.GuestRequest{{UserID: "u1", PaymentStatus: models.PaymentStatusPaid}}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: paid}

	tr := waitTransition(t, s)
	assert.Equal(t, "p1", tr.PartyID)
	assert.Equal(t, models.GuestStatusNone, tr.Old)
	assert.Equal(t, models.GuestStatusGoing, tr.New)
	assert.Equal(t, HapticMedium, tr.Haptic)
	assert.NotNil(t, cache.Get("p1"))

	// An identical snapshot changes nothing and emits nothing.
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: paid}
	assertNoTransition(t, s)

	s.Unwatch("p1")
}

func TestDeniedStatusNeverRegresses(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")
	end := time.Now().UTC().Add(time.Hour)

	s.Watch("p1")
	denied := syncTestParty("p1", end, func(p *models.Party) {
		p.GuestRequests = []models.GuestRequest{{UserID: "u1", PaymentStatus: models.PaymentStatusDenied}}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: denied}

	tr := waitTransition(t, s)
	assert.Equal(t, models.GuestStatusDenied, tr.New)
	assert.Equal(t, HapticStrong, tr.Haptic)

	// A later snapshot that would derive a different status is ignored.
	paid := syncTestParty("p1", end, func(p *models.Party) {
		p.GuestRequests = []models.GuestRequest{{UserID: "u1", PaymentStatus: models.PaymentStatusPaid}}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: paid}
	assertNoTransition(t, s)

	s.Unwatch("p1")
}

func TestEndedPartyEmitsAttendedAndEvicts(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")
	now := time.Now().UTC()

	s.Watch("p1")
	live := syncTestParty("p1", now.Add(time.Hour), func(p *models.Party) {
		p.ActiveUsers = []string{"u1"}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: live}
	tr := waitTransition(t, s)
	assert.Equal(t, models.GuestStatusGoing, tr.New)

	ended := syncTestParty("p1", now.Add(-time.Minute), func(p *models.Party) {
		p.ActiveUsers = []string{"u1"}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: ended}

	tr = waitTransition(t, s)
	assert.Equal(t, models.GuestStatusGoing, tr.Old)
	assert.Equal(t, models.GuestStatusAttended, tr.New)

	require.Eventually(t, func() bool {
		return !s.Watching("p1") && cache.Get("p1") == nil
	}, time.Second, 10*time.Millisecond, "ended party must be evicted and unwatched")
}

func TestRemovedLivePartyDropsWithoutAttended(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")

	s.Watch("p1")
	live := syncTestParty("p1", time.Now().UTC().Add(2*time.Hour), func(p *models.Party) {
		p.ActiveUsers = []string{"u1"}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: live}
	waitTransition(t, s)

	// Cancellation of a party that has not ended: the attended transition
	// is time-triggered, so removal alone must not produce it.
	feed.sub("p1").events <- FeedEvent{Type: FeedEventRemoved, PartyID: "p1"}

	require.Eventually(t, func() bool {
		return !s.Watching("p1") && cache.Get("p1") == nil
	}, time.Second, 10*time.Millisecond)
	assertNoTransition(t, s)
}

func TestRemovedEndedPartyEmitsAttended(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")

	s.Watch("p1")
	cache.Upsert("p1", syncTestParty("p1", time.Now().UTC().Add(-time.Minute), func(p *models.Party) {
		p.ActiveUsers = []string{"u1"}
	}))
	feed.sub("p1").events <- FeedEvent{Type: FeedEventRemoved, PartyID: "p1"}

	tr := waitTransition(t, s)
	assert.Equal(t, models.GuestStatusAttended, tr.New)
	require.Eventually(t, func() bool {
		return !s.Watching("p1") && cache.Get("p1") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWatchResubscribesAfterFeedError(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")

	s.Watch("p1")
	feed.sub("p1").events <- FeedEvent{Type: FeedEventError, Err: errors.New("stream closed")}
	require.Eventually(t, func() bool { return !s.Watching("p1") }, time.Second, 10*time.Millisecond,
		"a dead watch must be released so the party can be rewatched")

	s.Watch("p1")
	assert.Equal(t, 2, feed.calls("p1"), "Watch after a terminal feed error must open a new subscription")
	assert.True(t, s.Watching("p1"))
	s.Unwatch("p1")
}

func TestStartReconnectsAfterAggregateError(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")

	s.Start()
	feed.hosted.events <- FeedEvent{Type: FeedEventError, Err: errors.New("stream closed")}

	// Both aggregate subscriptions are released once the error lands.
	require.Eventually(t, func() bool { return feed.closedCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, ConnectivityError, s.Connectivity().State)

	s.Start()
	assert.Equal(t, ConnectivityConnected, s.Connectivity().State)
	feed.mu.Lock()
	hostedCalls, attendingCalls := feed.hostedCalls, feed.attendingCalls
	feed.mu.Unlock()
	assert.Equal(t, 2, hostedCalls)
	assert.Equal(t, 2, attendingCalls)
	s.Stop()
}

func TestUnwatchClearsStatusBaseline(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")
	end := time.Now().UTC().Add(time.Hour)

	s.Watch("p1")
	denied := syncTestParty("p1", end, func(p *models.Party) {
		p.GuestRequests = []models.GuestRequest{{UserID: "u1", PaymentStatus: models.PaymentStatusDenied}}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: denied}
	tr := waitTransition(t, s)
	assert.Equal(t, models.GuestStatusDenied, tr.New)

	s.Unwatch("p1")

	// A fresh watch starts from a clean baseline: the stale terminal
	// status must not suppress transitions on the new subscription.
	s.Watch("p1")
	paid := syncTestParty("p1", end, func(p *models.Party) {
		p.GuestRequests = []models.GuestRequest{{UserID: "u1", PaymentStatus: models.PaymentStatusPaid}}
	})
	feed.sub("p1").events <- FeedEvent{Type: FeedEventModified, PartyID: "p1", Party: paid}

	tr = waitTransition(t, s)
	assert.Equal(t, models.GuestStatusNone, tr.Old)
	assert.Equal(t, models.GuestStatusGoing, tr.New)
	s.Unwatch("p1")
}

func TestAggregatesDriveWatchSet(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")

	s.Start()
	defer s.Stop()
	assert.Equal(t, ConnectivityConnected, s.Connectivity().State)
	require.NotNil(t, feed.hosted)
	require.NotNil(t, feed.attending)

	feed.hosted.events <- FeedEvent{Type: FeedEventAdded, PartyID: "p1"}
	require.Eventually(t, func() bool { return s.Watching("p1") }, time.Second, 10*time.Millisecond)

	feed.hosted.events <- FeedEvent{Type: FeedEventRemoved, PartyID: "p1"}
	require.Eventually(t, func() bool {
		return !s.Watching("p1") && cache.Get("p1") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestFeedErrorDegradesConnectivity(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")

	s.Start()
	defer s.Stop()

	feed.attending.events <- FeedEvent{Type: FeedEventError, Err: errors.New("stream closed")}
	require.Eventually(t, func() bool {
		return s.Connectivity().State == ConnectivityError
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "stream closed", s.Connectivity().Reason)
}

func TestSweepEvictsEndedParties(t *testing.T) {
	feed := newFakeFeed()
	cache := NewPartyCache()
	s := NewSyncService(feed, cache, "u1")
	now := time.Now().UTC()

	cache.Upsert("ended", syncTestParty("ended", now.Add(-time.Minute), func(p *models.Party) {
		p.ActiveUsers = []string{"u1"}
	}))
	cache.Upsert("live", syncTestParty("live", now.Add(time.Hour), nil))

	assert.Equal(t, 1, s.SweepOnce(now))
	assert.Nil(t, cache.Get("ended"))
	assert.NotNil(t, cache.Get("live"))

	tr := waitTransition(t, s)
	assert.Equal(t, "ended", tr.PartyID)
	assert.Equal(t, models.GuestStatusAttended, tr.New)

	// A second sweep finds nothing left to evict.
	assert.Equal(t, 0, s.SweepOnce(now))
}

func TestStopCancelsEverySubscription(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncService(feed, NewPartyCache(), "u1")

	s.Start()
	s.Watch("p1")
	s.Watch("p2")
	s.Stop()

	assert.Equal(t, ConnectivityDisconnected, s.Connectivity().State)
	feed.mu.Lock()
	closed := feed.closed
	feed.mu.Unlock()
	assert.Equal(t, 4, closed, "two aggregates plus two party watches")
}
