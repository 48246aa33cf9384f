package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyup_server/models"
)

// fakeRatingStore is an in-memory RatingStore with the same conditional-write
// semantics as the DynamoDB implementation.
type fakeRatingStore struct {
	mu       sync.Mutex
	parties  map[string]*models.Party
	profiles map[string]*models.UserProfile

	ratingWrites int
	creditAwards int
}

func newFakeRatingStore() *fakeRatingStore {
	return &fakeRatingStore{
		parties:  make(map[string]*models.Party),
		profiles: make(map[string]*models.UserProfile),
	}
}

func (f *fakeRatingStore) addParty(p *models.Party) {
	if p.RatingsSubmitted == nil {
		p.RatingsSubmitted = map[string]models.Rating{}
	}
	f.parties[p.PartyID] = p
}

func (f *fakeRatingStore) profile(userID string) *models.UserProfile {
	if _, ok := f.profiles[userID]; !ok {
		f.profiles[userID] = &models.UserProfile{UserID: userID}
	}
	return f.profiles[userID]
}

func (f *fakeRatingStore) GetParty(ctx context.Context, partyID string) (*models.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[partyID]
	if !ok {
		return nil, ErrItemNotFound
	}
	copied := *p
	copied.RatingsSubmitted = make(map[string]models.Rating, len(p.RatingsSubmitted))
	for k, v := range p.RatingsSubmitted {
		copied.RatingsSubmitted[k] = v
	}
	return &copied, nil
}

func (f *fakeRatingStore) RecordRating(ctx context.Context, partyID, userID string, rating models.Rating, ratingsRequired int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[partyID]
	if !ok {
		return ErrItemNotFound
	}
	if _, dup := p.RatingsSubmitted[userID]; dup {
		return ErrConditionFailed
	}
	if p.RatingsRequired == 0 {
		p.RatingsRequired = ratingsRequired
	}
	p.RatingsSubmitted[userID] = rating
	f.ratingWrites++
	return nil
}

func (f *fakeRatingStore) AwardHostCredit(ctx context.Context, partyID, hostID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parties[partyID]
	if !ok {
		return false, ErrItemNotFound
	}
	if p.HostCreditAwarded {
		return false, nil
	}
	p.HostCreditAwarded = true
	f.profile(hostID).HostedPartiesCount++
	f.creditAwards++
	return true, nil
}

func (f *fakeRatingStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.profile(userID)
	return &copied, nil
}

func (f *fakeRatingStore) MarkHostVerified(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile(userID)
	if p.IsHostVerified {
		return false, nil
	}
	p.IsHostVerified = true
	return true, nil
}

func (f *fakeRatingStore) IncrementAttendedCount(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile(userID)
	p.AttendedPartiesCount++
	return p.AttendedPartiesCount, nil
}

func (f *fakeRatingStore) MarkGuestVerified(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile(userID)
	if p.IsGuestVerified {
		return false, nil
	}
	p.IsGuestVerified = true
	return true, nil
}

// recordingDispatcher captures emitted notifications.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []Notification
}

func (d *recordingDispatcher) Dispatch(n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, n)
}

func (d *recordingDispatcher) count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func newRatingService(store *fakeRatingStore) (*RatingService, *recordingDispatcher) {
	dispatcher := &recordingDispatcher{}
	return &RatingService{
		Store:                      store,
		Dispatcher:                 dispatcher,
		HostVerificationThreshold:  3,
		GuestVerificationThreshold: 5,
	}, dispatcher
}

func TestQuorumThreshold(t *testing.T) {
	tests := []struct {
		ratingsRequired int
		want            int
	}{
		{0, 1},
		{1, 1},
		{5, 1},
		{10, 2},
		{11, 3},
		{25, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuorumThreshold(tt.ratingsRequired), "ratingsRequired=%d", tt.ratingsRequired)
	}
}

func TestSubmitRatingInvalidValue(t *testing.T) {
	store := newFakeRatingStore()
	svc, _ := newRatingService(store)

	assert.ErrorIs(t, svc.SubmitRating(context.Background(), "p1", "u1", 0, ""), ErrInvalidRating)
	assert.ErrorIs(t, svc.SubmitRating(context.Background(), "p1", "u1", 6, ""), ErrInvalidRating)
	assert.Equal(t, 0, store.ratingWrites)
}

func TestSubmitRatingPartyNotFound(t *testing.T) {
	store := newFakeRatingStore()
	svc, _ := newRatingService(store)

	assert.ErrorIs(t, svc.SubmitRating(context.Background(), "missing", "u1", 4, ""), ErrPartyNotFound)
}

func TestSubmitRatingAlreadyRated(t *testing.T) {
	store := newFakeRatingStore()
	store.addParty(&models.Party{PartyID: "p1", HostID: "host", ActiveUsers: []string{"u1", "u2"}})
	svc, _ := newRatingService(store)

	require.NoError(t, svc.SubmitRating(context.Background(), "p1", "u1", 4, "great"))
	assert.ErrorIs(t, svc.SubmitRating(context.Background(), "p1", "u1", 5, ""), ErrAlreadyRated)
	assert.Equal(t, 1, store.ratingWrites, "the duplicate submission must not write")
}

func TestFirstRatingFixesDenominator(t *testing.T) {
	// Party with five confirmed attendees: the first rating fixes
	// ratingsRequired at 5, so the threshold is 1 and credit is awarded
	// immediately.
	store := newFakeRatingStore()
	store.addParty(&models.Party{
		PartyID:     "p1",
		HostID:      "host",
		ActiveUsers: []string{"a", "b", "c", "d", "e"},
	})
	svc, dispatcher := newRatingService(store)

	require.NoError(t, svc.SubmitRating(context.Background(), "p1", "a", 4, ""))

	party, err := store.GetParty(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, party.RatingsRequired)
	assert.True(t, party.HostCreditAwarded)
	assert.Equal(t, 1, store.profiles["host"].HostedPartiesCount)

	// A later rating must not re-award the credit.
	require.NoError(t, svc.SubmitRating(context.Background(), "p1", "b", 5, ""))
	assert.Equal(t, 1, store.profiles["host"].HostedPartiesCount)
	assert.Equal(t, 1, store.creditAwards)
	assert.Equal(t, 1, dispatcher.count(NotificationHostCredited))
}

func TestQuorumTwoOfTen(t *testing.T) {
	store := newFakeRatingStore()
	store.addParty(&models.Party{
		PartyID:         "p1",
		HostID:          "host",
		ActiveUsers:     []string{"a", "b"},
		RatingsRequired: 10,
	})
	svc, _ := newRatingService(store)

	require.NoError(t, svc.SubmitRating(context.Background(), "p1", "a", 3, ""))
	party, _ := store.GetParty(context.Background(), "p1")
	assert.False(t, party.HostCreditAwarded, "one of ten ratings is below the quorum")

	require.NoError(t, svc.SubmitRating(context.Background(), "p1", "b", 4, ""))
	party, _ = store.GetParty(context.Background(), "p1")
	assert.True(t, party.HostCreditAwarded, "two of ten ratings meets ceil(0.20*10)")
}

func TestConcurrentSubmissionsCreditOnce(t *testing.T) {
	store := newFakeRatingStore()
	users := make([]string, 20)
	for i := range users {
		users[i] = string(rune('a' + i))
	}
	store.addParty(&models.Party{
		PartyID:         "p1",
		HostID:          "host",
		ActiveUsers:     users,
		RatingsRequired: 1,
	})
	svc, dispatcher := newRatingService(store)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_ = svc.SubmitRating(context.Background(), "p1", userID, 5, "")
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, store.creditAwards, "hostCreditAwarded must flip exactly once")
	assert.Equal(t, 1, store.profiles["host"].HostedPartiesCount, "no double increment under concurrency")
	assert.Equal(t, 1, dispatcher.count(NotificationHostCredited))
}

func TestHostVerificationAtThreshold(t *testing.T) {
	store := newFakeRatingStore()
	store.profile("host").HostedPartiesCount = 2
	store.addParty(&models.Party{
		PartyID:         "p3",
		HostID:          "host",
		ActiveUsers:     []string{"a"},
		RatingsRequired: 1,
	})
	svc, dispatcher := newRatingService(store)

	require.NoError(t, svc.SubmitRating(context.Background(), "p3", "a", 5, ""))

	assert.Equal(t, 3, store.profiles["host"].HostedPartiesCount)
	assert.True(t, store.profiles["host"].IsHostVerified)
	assert.Equal(t, 1, dispatcher.count(NotificationHostVerified))

	// Crossing the threshold again must not re-verify.
	store.addParty(&models.Party{
		PartyID:         "p4",
		HostID:          "host",
		ActiveUsers:     []string{"b"},
		RatingsRequired: 1,
	})
	require.NoError(t, svc.SubmitRating(context.Background(), "p4", "b", 5, ""))
	assert.Equal(t, 1, dispatcher.count(NotificationHostVerified))
}

func TestCheckInGuestVerification(t *testing.T) {
	store := newFakeRatingStore()
	svc, dispatcher := newRatingService(store)

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.RecordCheckIn(context.Background(), "guest"))
	}
	assert.False(t, store.profiles["guest"].IsGuestVerified)

	require.NoError(t, svc.RecordCheckIn(context.Background(), "guest"))
	assert.True(t, store.profiles["guest"].IsGuestVerified)
	assert.Equal(t, 1, dispatcher.count(NotificationGuestVerified))

	require.NoError(t, svc.RecordCheckIn(context.Background(), "guest"))
	assert.Equal(t, 6, store.profiles["guest"].AttendedPartiesCount)
	assert.Equal(t, 1, dispatcher.count(NotificationGuestVerified), "the badge is granted once")
}
