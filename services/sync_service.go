package services

import (
	"context"
	"log"
	"sync"
	"time"

	"partyup_server/models"
)

// Connectivity states observable by callers. A feed error degrades the
// manager to stale-but-alive; it never crashes the process.
const (
	ConnectivityConnected    = "connected"
	ConnectivityConnecting   = "connecting"
	ConnectivityDisconnected = "disconnected"
	ConnectivityError        = "error"
)

// Connectivity is the manager's current feed health.
type Connectivity struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// StatusTransition is emitted whenever a user's derived status for a party
// changes.
type StatusTransition struct {
	PartyID string
	Old     string
	New     string
	Party   *models.Party
	Haptic  string
}

type partyWatch struct {
	sub *FeedSubscription
}

// SyncService keeps one user's view of their parties consistent with the
// store: it owns at most one change-feed subscription per watched party plus
// the hosted-by-me and attending aggregate subscriptions, updates the party
// cache, derives statuses, and emits transitions for dispatch.
type SyncService struct {
	Feed   PartyFeed
	Cache  *PartyCache
	UserID string
	Now    func() time.Time

	mu         sync.Mutex
	watches    map[string]*partyWatch
	aggregates []*FeedSubscription
	lastStatus map[string]string
	conn       Connectivity
	started    bool

	events chan StatusTransition
	wg     sync.WaitGroup
}

func NewSyncService(feed PartyFeed, cache *PartyCache, userID string) *SyncService {
	return &SyncService{
		Feed:       feed,
		Cache:      cache,
		UserID:     userID,
		Now:        time.Now,
		watches:    make(map[string]*partyWatch),
		lastStatus: make(map[string]string),
		conn:       Connectivity{State: ConnectivityDisconnected},
		events:     make(chan StatusTransition, 64),
	}
}

// Events returns the stream of status transitions for downstream dispatch.
func (s *SyncService) Events() <-chan StatusTransition {
	return s.events
}

// Connectivity returns the current feed health.
func (s *SyncService) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *SyncService) setConnectivity(state, reason string) {
	s.mu.Lock()
	s.conn = Connectivity{State: state, Reason: reason}
	s.mu.Unlock()
}

// Start opens the hosted-by-me and attending aggregate subscriptions and
// begins maintaining the dynamic per-party watch set.
func (s *SyncService) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.conn = Connectivity{State: ConnectivityConnecting}
	s.mu.Unlock()

	hosted := s.Feed.SubscribeHosted(s.UserID)
	attending := s.Feed.SubscribeAttending(s.UserID)

	s.mu.Lock()
	s.aggregates = []*FeedSubscription{hosted, attending}
	s.conn = Connectivity{State: ConnectivityConnected}
	s.mu.Unlock()

	s.wg.Add(2)
	go s.consumeAggregate(hosted)
	go s.consumeAggregate(attending)
}

// Stop cancels every subscription and waits for the delivery goroutines to
// drain.
func (s *SyncService) Stop() {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[string]*partyWatch)
	aggregates := s.aggregates
	s.aggregates = nil
	s.started = false
	s.conn = Connectivity{State: ConnectivityDisconnected}
	s.mu.Unlock()

	for _, w := range watches {
		s.Feed.Unsubscribe(w.sub)
	}
	for _, sub := range aggregates {
		s.Feed.Unsubscribe(sub)
	}
	s.wg.Wait()
}

// Watch opens a change-feed subscription for one party. Watching a party that
// is already watched is a no-op.
func (s *SyncService) Watch(partyID string) {
	if partyID == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.watches[partyID]; ok {
		s.mu.Unlock()
		return
	}
	sub := s.Feed.Subscribe(partyID)
	s.watches[partyID] = &partyWatch{sub: sub}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consumeParty(partyID, sub)
}

// Unwatch cancels the party's subscription and clears its status baseline, so
// a later Watch for the same party starts from a clean state. Cache mutation
// for that key stops immediately.
func (s *SyncService) Unwatch(partyID string) {
	s.mu.Lock()
	w, ok := s.watches[partyID]
	if ok {
		delete(s.watches, partyID)
		delete(s.lastStatus, partyID)
	}
	s.mu.Unlock()
	if ok {
		s.Feed.Unsubscribe(w.sub)
	}
}

// forgetWatch discards a watch whose subscription ended on its own, so a
// later Watch for the same party opens a fresh subscription.
func (s *SyncService) forgetWatch(partyID string, sub *FeedSubscription) {
	s.mu.Lock()
	if w, ok := s.watches[partyID]; ok && w.sub == sub {
		delete(s.watches, partyID)
		delete(s.lastStatus, partyID)
	}
	s.mu.Unlock()
	s.Feed.Unsubscribe(sub)
}

// Watching reports whether a party currently has an active subscription.
func (s *SyncService) Watching(partyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[partyID]
	return ok
}

func (s *SyncService) consumeParty(partyID string, sub *FeedSubscription) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			switch ev.Type {
			case FeedEventError:
				s.setConnectivity(ConnectivityError, ev.Err.Error())
				s.forgetWatch(partyID, sub)
				return
			case FeedEventRemoved:
				// Party deleted or cancelled upstream.
				s.drop(partyID)
				return
			default:
				if !s.applySnapshot(partyID, ev.Party) {
					return
				}
			}
		}
	}
}

func (s *SyncService) consumeAggregate(sub *FeedSubscription) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			switch ev.Type {
			case FeedEventError:
				s.setConnectivity(ConnectivityError, ev.Err.Error())
				s.teardownAggregates()
				return
			case FeedEventAdded:
				s.Watch(ev.PartyID)
			case FeedEventRemoved:
				// The party left the aggregate's result set; it is no
				// longer interesting to this user.
				s.Unwatch(ev.PartyID)
				s.Cache.Evict(ev.PartyID)
			}
			// Modified events are handled by the per-party watch.
		}
	}
}

// teardownAggregates releases the aggregate subscriptions after a terminal
// feed error and clears the started flag, so the next Start reconnects
// instead of hitting the idempotency guard.
func (s *SyncService) teardownAggregates() {
	s.mu.Lock()
	aggregates := s.aggregates
	s.aggregates = nil
	s.started = false
	s.mu.Unlock()
	for _, sub := range aggregates {
		s.Feed.Unsubscribe(sub)
	}
}

// applySnapshot folds one feed snapshot into the cache and emits a transition
// if the derived status changed. Returns false when the party left the live
// set and the watch should end.
func (s *SyncService) applySnapshot(partyID string, party *models.Party) bool {
	if party == nil {
		return true
	}
	now := s.Now()

	// Ended parties must never remain visible in the live set, regardless
	// of anything else in the snapshot.
	if party.HasEnded(now) {
		s.Cache.Upsert(partyID, party)
		s.drop(partyID)
		return false
	}

	s.Cache.Upsert(partyID, party)
	s.transition(partyID, DeriveStatus(party, s.UserID, now), party)
	return true
}

// drop retires a party from the live set. The attended transition is
// time-triggered, never event-triggered: it fires only when the party
// actually ended and the user was a confirmed attendee. A removal of a
// still-live party (cancellation, deletion) evicts without it.
func (s *SyncService) drop(partyID string) {
	if party := s.Cache.Get(partyID); party != nil && party.IsActiveUser(s.UserID) && party.HasEnded(s.Now()) {
		s.transition(partyID, models.GuestStatusAttended, party)
	}
	s.Cache.Evict(partyID)
	s.Unwatch(partyID)
}

func (s *SyncService) transition(partyID, newStatus string, party *models.Party) {
	s.mu.Lock()
	old, seen := s.lastStatus[partyID]
	if !seen {
		old = models.GuestStatusNone
	}
	if old == newStatus || IsTerminalStatus(old) {
		s.mu.Unlock()
		return
	}
	s.lastStatus[partyID] = newStatus
	s.mu.Unlock()

	t := StatusTransition{
		PartyID: partyID,
		Old:     old,
		New:     newStatus,
		Party:   party,
		Haptic:  HapticHint(newStatus),
	}
	select {
	case s.events <- t:
	default:
		log.Printf("sync: dropping status transition for party %s (%s -> %s), consumer is behind", partyID, old, newStatus)
	}
}

// SweepOnce evicts every cached party whose end time has passed, independent
// of feed events, and returns how many were evicted.
func (s *SyncService) SweepOnce(now time.Time) int {
	expired := 0
	for partyID, party := range s.Cache.Snapshot() {
		if party.HasEnded(now) {
			s.drop(partyID)
			expired++
		}
	}
	return expired
}

// RunSweeper runs the periodic sweep until the context is cancelled.
func (s *SyncService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepOnce(s.Now()); n > 0 {
				log.Printf("sync: sweep evicted %d ended parties for user %s", n, s.UserID)
			}
		}
	}
}
