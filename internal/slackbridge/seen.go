package slackbridge

import (
	"sync"
	"time"
)

const defaultSeenTTL = 10 * time.Minute

type claimState int

const (
	claimFresh claimState = iota
	// claimInFlight means another delivery of the event is being handled.
	claimInFlight
	// claimHandled means the event was already handled successfully.
	claimHandled
)

type seenEntry struct {
	expires time.Time
	handled bool
}

// seenCache remembers inbound event ids so redelivered events are dropped.
// An id is claimed while its event is in flight and only kept once
// handling succeeded; a failed event is released so a redelivery can retry.
type seenCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]seenEntry
}

func newSeenCache(ttl time.Duration) *seenCache {
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &seenCache{ttl: ttl, now: time.Now, seen: map[string]seenEntry{}}
}

// Claim marks key in flight when it is unknown. An empty key is always
// fresh.
func (c *seenCache) Claim(key string) claimState {
	if key == "" {
		return claimFresh
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneLocked(now)
	if e, ok := c.seen[key]; ok {
		if e.handled {
			return claimHandled
		}
		return claimInFlight
	}
	c.seen[key] = seenEntry{expires: now.Add(c.ttl)}
	return claimFresh
}

// Done marks key handled, restarting its TTL.
func (c *seenCache) Done(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.seen[key] = seenEntry{expires: c.now().Add(c.ttl), handled: true}
	c.mu.Unlock()
}

// Release forgets key so a redelivery is processed again.
func (c *seenCache) Release(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	delete(c.seen, key)
	c.mu.Unlock()
}

func (c *seenCache) pruneLocked(now time.Time) {
	for k, e := range c.seen {
		if now.After(e.expires) {
			delete(c.seen, k)
		}
	}
}
