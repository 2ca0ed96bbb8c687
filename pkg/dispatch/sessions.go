package dispatch

import (
	"sync"
	"time"

	"github.com/opd-ai/go-llarp/pkg/iwp"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// sessionTable is the dispatch core's table of owned link sessions, split
// between sessions still mid-handshake (indexed by the remote transport
// address, since the peer's RouterID isn't known to a Responder until its
// LIM arrives) and sessions bound to a RouterID.
type sessionTable struct {
	mu        sync.Mutex
	byAddr    map[string]*iwp.Session
	byRouter  map[rc.RouterID]*iwp.Session
	addrOfRtr map[rc.RouterID]string
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byAddr:    make(map[string]*iwp.Session),
		byRouter:  make(map[rc.RouterID]*iwp.Session),
		addrOfRtr: make(map[rc.RouterID]string),
	}
}

func (t *sessionTable) putPending(addr string, s *iwp.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddr[addr] = s
}

func (t *sessionTable) byAddress(addr string) (*iwp.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byAddr[addr]
	return s, ok
}

func (t *sessionTable) byRouterID(id rc.RouterID) (*iwp.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byRouter[id]
	return s, ok
}

// addrOf returns the transport address a bound RouterID's session is
// reachable at.
func (t *sessionTable) addrOf(id rc.RouterID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.addrOfRtr[id]
	return addr, ok
}

// bind associates an already-responded-to address with the RouterID its
// LIM revealed, once the session's BindPeer has succeeded.
func (t *sessionTable) bind(addr string, id rc.RouterID, s *iwp.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byRouter[id] = s
	t.addrOfRtr[id] = addr
}

func (t *sessionTable) remove(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byAddr[addr]
	if !ok {
		return
	}
	delete(t.byAddr, addr)
	if s.PeerBound() {
		delete(t.byRouter, s.PeerRouterID)
		delete(t.addrOfRtr, s.PeerRouterID)
	}
}

// sweepTimeouts calls Tick on every tracked session and reports which
// RouterIDs timed out, so the caller can tear down dependent transit/owned
// path state.
func (t *sessionTable) sweepTimeouts(now time.Time) (timedOut []rc.RouterID, toSend map[string][][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	toSend = make(map[string][][]byte)
	for addr, s := range t.byAddr {
		frames, isTimeout := s.Tick(now)
		if len(frames) > 0 {
			toSend[addr] = frames
		}
		if isTimeout {
			if s.PeerBound() {
				timedOut = append(timedOut, s.PeerRouterID)
			} else {
				delete(t.byAddr, addr)
			}
		}
	}
	return timedOut, toSend
}
