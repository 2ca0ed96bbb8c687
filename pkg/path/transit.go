package path

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// hopKey is the (RouterID, PathID) pair that must be unique per direction in
// the TransitTable.
type hopKey struct {
	router rc.RouterID
	path   ID
}

// Entry is per-hop relay state for one path: ingress and egress
// addressing, the two directional symmetric keys, and a hard expiry.
type Entry struct {
	UpstreamRouter   rc.RouterID
	IngressPath      ID
	DownstreamRouter rc.RouterID
	EgressPath       ID
	ForwardKey       []byte
	BackwardKey      []byte
	// Terminal is true if this relay is the last hop of the path: it hands
	// the peeled payload to the dispatch core instead of forwarding it.
	Terminal bool
	// Introduction is true if this terminal entry was built by
	// Builder.BuildIntroduction: the dispatch core indexes it by PathID
	// alone (the introduction points must be reachable by any
	// client, not just the upstream peer that forwarded the original
	// LR_CommitMessage).
	Introduction bool
	ExpiresAt    time.Time
}

// Table is a relay's transit path table: TransitHops,
// indexed both by ingress and by egress (RouterID, PathID) so the uniqueness
// invariant can be checked on insertion from either direction.
type Table struct {
	mu      sync.Mutex
	ingress map[hopKey]*Entry
	egress  map[hopKey]*Entry
}

// NewTable returns an empty transit table.
func NewTable() *Table {
	return &Table{
		ingress: make(map[hopKey]*Entry),
		egress:  make(map[hopKey]*Entry),
	}
}

// Insert adds entry, rejecting it if either its ingress or egress
// (RouterID, PathID) pair already exists in the table.
func (t *Table) Insert(entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ik := hopKey{entry.UpstreamRouter, entry.IngressPath}
	if _, exists := t.ingress[ik]; exists {
		return fmt.Errorf("path: transit table: ingress (%s, %s) already in use", entry.UpstreamRouter, entry.IngressPath)
	}
	if !entry.Terminal {
		ek := hopKey{entry.DownstreamRouter, entry.EgressPath}
		if _, exists := t.egress[ek]; exists {
			return fmt.Errorf("path: transit table: egress (%s, %s) already in use", entry.DownstreamRouter, entry.EgressPath)
		}
		t.egress[ek] = entry
	}
	t.ingress[ik] = entry
	return nil
}

// LookupIngress finds the entry whose ingress (RouterID, PathID) matches,
// used when a message arrives from upstream and needs its outer layer
// peeled or stripped.
func (t *Table) LookupIngress(router rc.RouterID, pathID ID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ingress[hopKey{router, pathID}]
	return e, ok
}

// LookupEgress finds the entry whose egress (RouterID, PathID) matches,
// used when a reply arrives from downstream and needs a layer added.
func (t *Table) LookupEgress(router rc.RouterID, pathID ID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.egress[hopKey{router, pathID}]
	return e, ok
}

// Remove deletes the entry addressed by its ingress pair, along with its
// egress mapping if one exists.
func (t *Table) Remove(router rc.RouterID, pathID ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ik := hopKey{router, pathID}
	entry, ok := t.ingress[ik]
	if !ok {
		return
	}
	delete(t.ingress, ik)
	if !entry.Terminal {
		delete(t.egress, hopKey{entry.DownstreamRouter, entry.EgressPath})
	}
}

// Sweep removes every entry whose hard expiry has passed, independent of
// whether it has carried traffic recently. Returns the count removed.
func (t *Table) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, e := range t.ingress {
		if now.After(e.ExpiresAt) {
			delete(t.ingress, k)
			if !e.Terminal {
				delete(t.egress, hopKey{e.DownstreamRouter, e.EgressPath})
			}
			removed++
		}
	}
	return removed
}

// Len reports the number of ingress entries currently held.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ingress)
}

// PeelForward strips this hop's forward layer from an outbound-direction
// packet. If entry is not terminal, the remaining plaintext is
// (downstream ciphertext || downstream nonce), ready to forward to
// DownstreamRouter tagged with EgressPath. If entry is terminal, the
// returned bytes are the fully-peeled application payload.
func (t *Table) PeelForward(provider crypto.Provider, entry *Entry, nonce, ciphertext []byte) (downstreamNonce, downstreamCiphertext, payload []byte, err error) {
	plain, err := peelOneLayer(provider, entry.ForwardKey, nonce, ciphertext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("path: peel forward: %w", err)
	}
	if entry.Terminal {
		return nil, nil, plain, nil
	}
	if len(plain) < crypto.NonceSize {
		return nil, nil, nil, fmt.Errorf("path: peel forward: truncated layer")
	}
	downstreamCiphertext = plain[:len(plain)-crypto.NonceSize]
	downstreamNonce = plain[len(plain)-crypto.NonceSize:]
	return downstreamNonce, downstreamCiphertext, nil, nil
}

// AddBackward adds this hop's backward layer to a reply packet arriving
// from downstream (or, at the terminus, to a fresh reply payload), producing
// the (nonce, ciphertext) to send upstream tagged with IngressPath.
func (t *Table) AddBackward(provider crypto.Provider, entry *Entry, payload []byte) (nonce, ciphertext []byte, err error) {
	nonce, ciphertext, err = wrapOneLayer(provider, entry.BackwardKey, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("path: add backward: %w", err)
	}
	return nonce, ciphertext, nil
}
