// Package awareness implements the ephemeral per-client presence channel:
// cursors and presence metadata keyed by client id, with a
// higher-clock-wins merge rule, holder-tracking tombstones on connection
// close, and a stale-entry timeout.
package awareness

import (
	"sync"
	"time"
)

// Entry is one client's awareness state: a monotone clock and an opaque
// payload. A nil Payload with a positive clock is a tombstone.
type Entry struct {
	ClientID uint64
	Clock    uint64
	Payload  []byte
}

func (e Entry) removed() bool { return e.Payload == nil }

// DefaultTimeout is the recommended awareness staleness timeout.
const DefaultTimeout = 30 * time.Second

// Channel tracks one document's awareness state.
type Channel struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time // monotonic clock source; overridable in tests

	entries  map[uint64]Entry
	lastSeen map[uint64]time.Time
	// holders maps a client id to the set of connection ids that have ever
	// advertised it, so RemoveConnection can tell which entries only that
	// connection was keeping alive.
	holders map[uint64]map[string]struct{}
}

// New creates an empty awareness channel. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{
		timeout:  timeout,
		now:      time.Now,
		entries:  make(map[uint64]Entry),
		lastSeen: make(map[uint64]time.Time),
		holders:  make(map[uint64]map[string]struct{}),
	}
}

// Apply applies a batch of (client-id, clock, payload) updates advertised
// by connID. Adopts each entry iff its clock is strictly greater than the
// stored clock for that client id; equal-or-lower clocks are silently
// ignored. Returns the subset that were actually adopted, for fan-out.
func (c *Channel) Apply(connID string, updates []Entry) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []Entry
	now := c.now()
	for _, u := range updates {
		cur, exists := c.entries[u.ClientID]
		if exists && u.Clock <= cur.Clock {
			continue
		}
		c.entries[u.ClientID] = u
		c.lastSeen[u.ClientID] = now
		if c.holders[u.ClientID] == nil {
			c.holders[u.ClientID] = make(map[string]struct{})
		}
		c.holders[u.ClientID][connID] = struct{}{}
		changed = append(changed, u)
	}
	return changed
}

// RemoveConnection drops connID as a holder of every client id it
// advertised. Any client id left with no remaining holder is tombstoned
// (clock bumped, payload cleared) and returned for fan-out.
func (c *Channel) RemoveConnection(connID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tombstoned []Entry
	for clientID, holders := range c.holders {
		if _, ok := holders[connID]; !ok {
			continue
		}
		delete(holders, connID)
		if len(holders) > 0 {
			continue
		}
		cur, ok := c.entries[clientID]
		if !ok || cur.removed() {
			continue
		}
		tomb := Entry{ClientID: clientID, Clock: cur.Clock + 1, Payload: nil}
		c.entries[clientID] = tomb
		delete(c.lastSeen, clientID)
		tombstoned = append(tombstoned, tomb)
	}
	return tombstoned
}

// CheckStale tombstones any entry that has not been re-advertised within
// the configured timeout, using the channel's monotonic clock source.
// Returns the tombstoned entries for fan-out.
func (c *Channel) CheckStale() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var stale []Entry
	for clientID, seen := range c.lastSeen {
		if now.Sub(seen) < c.timeout {
			continue
		}
		cur := c.entries[clientID]
		if cur.removed() {
			delete(c.lastSeen, clientID)
			continue
		}
		tomb := Entry{ClientID: clientID, Clock: cur.Clock + 1, Payload: nil}
		c.entries[clientID] = tomb
		delete(c.lastSeen, clientID)
		for connID := range c.holders[clientID] {
			delete(c.holders[clientID], connID)
		}
		stale = append(stale, tomb)
	}
	return stale
}

// Snapshot returns every current entry (including tombstones), for
// QUERY_AWARENESS responses and for syncing a newly-attached connection.
func (c *Channel) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
