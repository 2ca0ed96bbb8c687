package rc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Filter decides whether a candidate RC is eligible for sampling. The path
// builder uses this to honor operator-provided strict-connect and blacklist
// constraints.
type Filter func(id RouterID, candidate *RC) bool

// Store is the in-memory router contact index: lookup by RouterID and
// random sampling for hop selection. It is single-writer:
// Put is serialized by an internal mutex, while Get and RandomSample read
// an immutable snapshot through an atomic pointer and never block on the
// writer.
type Store struct {
	provider crypto.Provider
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[RouterID]*RC]
	lastPut  atomic.Int64 // unix nanos of the most recent accepted Put
}

// NewStore returns an empty router contact store. provider is used to
// verify RC signatures on Put.
func NewStore(provider crypto.Provider) *Store {
	s := &Store{provider: provider}
	empty := make(map[RouterID]*RC)
	s.snapshot.Store(&empty)
	return s
}

// Get returns the current RC for id, if any.
func (s *Store) Get(id RouterID) (*RC, bool) {
	m := *s.snapshot.Load()
	found, ok := m[id]
	return found, ok
}

// Put validates and installs rc as the current contact for its RouterID. A
// router has at most one current RC in the store; a newer RC (by Version)
// replaces an older one. Put rejects an RC whose signature does not verify
// or that is already expired.
func (s *Store) Put(candidate *RC) error {
	if err := candidate.Verify(s.provider, time.Now()); err != nil {
		return fmt.Errorf("rc: store: reject: %w", err)
	}
	id, err := candidate.RouterID()
	if err != nil {
		return fmt.Errorf("rc: store: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := *s.snapshot.Load()
	if existing, ok := old[id]; ok && existing.Version >= candidate.Version {
		return nil
	}

	next := make(map[RouterID]*RC, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = candidate
	s.snapshot.Store(&next)
	s.lastPut.Store(time.Now().UnixNano())
	return nil
}

// LastUpdated reports when the store last accepted a new or newer RC, the
// zero time if it never has. Health checks use this to flag a store that
// has stopped hearing fresh contacts.
func (s *Store) LastUpdated() time.Time {
	n := s.lastPut.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Prune removes every RC that is expired as of now, returning the count
// removed. Called periodically so stale contacts fall out of the sampling
// pool on their own.
func (s *Store) Prune(now time.Time) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := *s.snapshot.Load()
	next := make(map[RouterID]*RC, len(old))
	removed := 0
	for k, v := range old {
		if now.After(v.ExpiresAt) {
			removed++
			continue
		}
		next[k] = v
	}
	if removed > 0 {
		s.snapshot.Store(&next)
	}
	return removed
}

// Len reports the number of router contacts currently held.
func (s *Store) Len() int {
	return len(*s.snapshot.Load())
}

// RandomSample draws up to k distinct RCs satisfying filter, using
// reservoir sampling over the current snapshot so no RC is favored by map
// iteration order. filter may be nil to accept every candidate.
func (s *Store) RandomSample(k int, filter Filter) ([]*RC, error) {
	if k <= 0 {
		return nil, nil
	}

	m := *s.snapshot.Load()
	reservoir := make([]*RC, 0, k)
	seen := 0

	for id, candidate := range m {
		if filter != nil && !filter(id, candidate) {
			continue
		}
		seen++
		if len(reservoir) < k {
			reservoir = append(reservoir, candidate)
			continue
		}
		j, err := s.randIntn(seen)
		if err != nil {
			return nil, fmt.Errorf("rc: random_sample: %w", err)
		}
		if j < k {
			reservoir[j] = candidate
		}
	}

	return reservoir, nil
}

// randIntn returns a uniform random integer in [0, n) using the store's
// crypto provider, so tests can substitute a deterministic fake.
func (s *Store) randIntn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("rc: randIntn: n must be positive")
	}
	v, err := s.provider.RandUint64()
	if err != nil {
		return 0, err
	}
	return int(v % uint64(n)), nil
}
