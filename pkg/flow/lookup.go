package flow

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opd-ai/go-llarp/pkg/path"
)

// LookupCooldown is the minimum spacing between two lookups for the same
// ServiceAddress.
const LookupCooldown = 250 * time.Millisecond

// MinLookupEndpoints is the number of distinct paths a lookup must hear
// back from before a reply is accepted.
const MinLookupEndpoints = 2

// MaxLookupEndpoints caps how many paths one lookup fans out across.
const MaxLookupEndpoints = 7

// RateLimiter gates how often a lookup may be issued per ServiceAddress:
// one token bucket per target, refilling at one lookup per LookupCooldown
// with a burst of one.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[ServiceAddress]*rate.Limiter
}

// NewRateLimiter returns an empty lookup rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[ServiceAddress]*rate.Limiter)}
}

// Allow reports whether a lookup for addr may be issued now, consuming a
// token if so.
func (r *RateLimiter) Allow(addr ServiceAddress, now time.Time) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(LookupCooldown), 1)
		r.limiters[addr] = limiter
	}
	r.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// Forget drops the bucket for addr, releasing memory for targets that are
// no longer being looked up.
func (r *RateLimiter) Forget(addr ServiceAddress) {
	r.mu.Lock()
	delete(r.limiters, addr)
	r.mu.Unlock()
}

// PendingLookup collects FindIntroSet responses for one outstanding query
// until MinLookupEndpoints distinct paths have replied.
type PendingLookup struct {
	Addr      ServiceAddress
	TxID      uint64
	Started   time.Time
	responses map[path.ID]*IntroSet
}

// NewPendingLookup starts tracking responses for a FindIntroSet(addr, txID)
// query issued at now.
func NewPendingLookup(addr ServiceAddress, txID uint64, now time.Time) *PendingLookup {
	return &PendingLookup{
		Addr:      addr,
		TxID:      txID,
		Started:   now,
		responses: make(map[path.ID]*IntroSet),
	}
}

// AddResponse records a GotIntroSet reply received over fromPath. A second
// response over the same path replaces the first rather than counting as a
// distinct endpoint.
func (p *PendingLookup) AddResponse(fromPath path.ID, introset *IntroSet) {
	p.responses[fromPath] = introset
}

// Ready reports whether responses from at least MinLookupEndpoints distinct
// paths have arrived.
func (p *PendingLookup) Ready() bool {
	return len(p.responses) >= MinLookupEndpoints
}

// Best returns the response with the highest sequence number, breaking
// ties by the later earliest-introduction-expiry. Returns false if no
// response has been recorded yet.
func (p *PendingLookup) Best() (*IntroSet, bool) {
	var best *IntroSet
	for _, introset := range p.responses {
		if best == nil || betterIntroSet(introset, best) {
			best = introset
		}
	}
	return best, best != nil
}

func betterIntroSet(candidate, current *IntroSet) bool {
	if candidate.Seq != current.Seq {
		return candidate.Seq > current.Seq
	}
	ce, cok := candidate.earliestExpiry()
	be, bok := current.earliestExpiry()
	if !bok {
		return cok
	}
	if !cok {
		return false
	}
	return ce.After(be)
}
