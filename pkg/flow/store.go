package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// IntroSetStore is the DHT node's in-memory index of published introsets,
// keyed by ServiceAddress. It mirrors pkg/rc.Store's
// single-writer/lockless-reader snapshot discipline.
type IntroSetStore struct {
	provider crypto.Provider
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[ServiceAddress]*IntroSet]
}

// NewIntroSetStore returns an empty introset store.
func NewIntroSetStore(provider crypto.Provider) *IntroSetStore {
	st := &IntroSetStore{provider: provider}
	empty := make(map[ServiceAddress]*IntroSet)
	st.snapshot.Store(&empty)
	return st
}

// Get returns the current introset for addr, if any.
func (st *IntroSetStore) Get(addr ServiceAddress) (*IntroSet, bool) {
	m := *st.snapshot.Load()
	found, ok := m[addr]
	return found, ok
}

// Put verifies and installs introset as the current copy for its
// ServiceAddr. A strictly lower or equal sequence number than the stored
// copy is a no-op, which makes publishing the same IntroSet twice (same
// Seq) idempotent.
func (st *IntroSetStore) Put(introset *IntroSet, now time.Time) error {
	if err := introset.Verify(st.provider, now); err != nil {
		return err
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	old := *st.snapshot.Load()
	if existing, ok := old[introset.ServiceAddr]; ok && existing.Seq >= introset.Seq {
		return nil
	}

	next := make(map[ServiceAddress]*IntroSet, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[introset.ServiceAddr] = introset
	st.snapshot.Store(&next)
	return nil
}

// Prune removes every stored introset whose every introduction has expired.
func (st *IntroSetStore) Prune(now time.Time) int {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	old := *st.snapshot.Load()
	next := make(map[ServiceAddress]*IntroSet, len(old))
	removed := 0
	for k, v := range old {
		if v.HasLiveIntro(now) {
			next[k] = v
		} else {
			removed++
		}
	}
	st.snapshot.Store(&next)
	return removed
}
