package services

import (
	"sync"

	"partyup_server/models"
)

// PartyCache is the in-memory mapping from party identifier to the latest
// known party document. It is the single source consulted by status
// derivation; derived statuses are never stored.
type PartyCache struct {
	mu      sync.RWMutex
	parties map[string]*models.Party
}

func NewPartyCache() *PartyCache {
	return &PartyCache{parties: make(map[string]*models.Party)}
}

// Get returns the cached party document, or nil if none is cached.
func (c *PartyCache) Get(partyID string) *models.Party {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parties[partyID]
}

// Upsert replaces the cached document for a party.
func (c *PartyCache) Upsert(partyID string, party *models.Party) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parties[partyID] = party
}

// Evict removes a party from the cache.
func (c *PartyCache) Evict(partyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.parties, partyID)
}

// Snapshot returns a copy of the cache contents, for the periodic sweep.
func (c *PartyCache) Snapshot() map[string]*models.Party {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.Party, len(c.parties))
	for id, p := range c.parties {
		out[id] = p
	}
	return out
}

// Len returns the number of cached parties.
func (c *PartyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parties)
}
