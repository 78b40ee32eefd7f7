package relay

import (
	"fmt"
	"sync"
	"time"

	linklockr "github.com/cynamonster/linklockr"
)

// inflightGuard serializes relays per slug. Only one relay decision may hold
// a slug at a time, and a slug whose purchase was broadcast recently is
// shadowed for a TTL window so follow-up requests fail fast instead of
// reverting on-chain.
//
// State is process-local; a load-balanced deployment would need a shared
// backend, but the second instance's relay still fails safely at the gas
// estimate when the item is already sold.
type inflightGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	sold     map[string]soldEntry
	ttl      time.Duration
}

type soldEntry struct {
	txHash string
	expiry time.Time
}

func newInflightGuard(ttl time.Duration) *inflightGuard {
	return &inflightGuard{
		inFlight: make(map[string]struct{}),
		sold:     make(map[string]soldEntry),
		ttl:      ttl,
	}
}

// Acquire marks a slug as in flight. It fails with a retryable error if
// another relay holds the slug, and with a final error if a purchase was
// broadcast for it within the TTL window.
func (g *inflightGuard) Acquire(slug string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cleanupExpiredLocked()

	if entry, ok := g.sold[slug]; ok {
		return linklockr.NewRelayError(linklockr.ErrCodeAlreadySold,
			fmt.Sprintf("purchase already broadcast for slug %q", slug),
			map[string]interface{}{"txHash": entry.txHash})
	}
	if _, ok := g.inFlight[slug]; ok {
		return linklockr.NewRelayError(linklockr.ErrCodeSlugInFlight,
			fmt.Sprintf("a relay for slug %q is already in flight", slug), nil)
	}

	g.inFlight[slug] = struct{}{}
	return nil
}

// Release clears the in-flight marker. Safe to call after MarkSold.
func (g *inflightGuard) Release(slug string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, slug)
}

// MarkSold records a broadcast purchase so later relays for the slug are
// turned away during the TTL window.
func (g *inflightGuard) MarkSold(slug, txHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sold[slug] = soldEntry{txHash: txHash, expiry: time.Now().Add(g.ttl)}
}

// cleanupExpiredLocked removes expired sold entries. Must be called with
// the lock held.
func (g *inflightGuard) cleanupExpiredLocked() {
	now := time.Now()
	for slug, entry := range g.sold {
		if now.After(entry.expiry) {
			delete(g.sold, slug)
		}
	}
}
