package services

import (
	"context"
	"sync"
	"time"
)

// SyncRegistry owns one synchronization manager per connected user. Managers
// are created on demand and torn down together; there are no process-wide
// singletons.
type SyncRegistry struct {
	Feed PartyFeed

	// OnStart, when set, is invoked once per newly created manager so the
	// composition root can attach an event consumer.
	OnStart func(*SyncService)

	mu       sync.Mutex
	managers map[string]*SyncService
}

func NewSyncRegistry(feed PartyFeed) *SyncRegistry {
	return &SyncRegistry{
		Feed:     feed,
		managers: make(map[string]*SyncService),
	}
}

// ForUser returns the user's synchronization manager, creating and starting
// it on first use. Start is a no-op on a healthy manager and reconnects one
// that lost its feed.
func (r *SyncRegistry) ForUser(userID string) *SyncService {
	r.mu.Lock()
	if m, ok := r.managers[userID]; ok {
		r.mu.Unlock()
		m.Start()
		return m
	}
	m := NewSyncService(r.Feed, NewPartyCache(), userID)
	r.managers[userID] = m
	onStart := r.OnStart
	r.mu.Unlock()

	m.Start()
	if onStart != nil {
		onStart(m)
	}
	return m
}

// Peek returns the user's manager without creating one.
func (r *SyncRegistry) Peek(userID string) *SyncService {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managers[userID]
}

// SweepOnce sweeps every manager and returns the total evictions.
func (r *SyncRegistry) SweepOnce(now time.Time) int {
	r.mu.Lock()
	managers := make([]*SyncService, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	total := 0
	for _, m := range managers {
		total += m.SweepOnce(now)
	}
	return total
}

// RunSweeper runs the periodic cache sweep across all managers until the
// context is cancelled.
func (r *SyncRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
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
			r.SweepOnce(time.Now())
		}
	}
}

// Stop tears down every manager.
func (r *SyncRegistry) Stop() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*SyncService)
	r.mu.Unlock()

	for _, m := range managers {
		m.Stop()
	}
}
