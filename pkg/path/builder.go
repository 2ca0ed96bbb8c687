package path

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	llarperrors "github.com/opd-ai/go-llarp/pkg/errors"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// Constraints narrows hop sampling: an operator may
// require specific relays (StrictConnect) or forbid others (Blacklist).
type Constraints struct {
	StrictConnect []rc.RouterID
	Blacklist     map[rc.RouterID]bool
}

func (c Constraints) filter(suspect map[rc.RouterID]time.Time, now time.Time) rc.Filter {
	return func(id rc.RouterID, _ *rc.RC) bool {
		if c.Blacklist != nil && c.Blacklist[id] {
			return false
		}
		if until, ok := suspect[id]; ok && now.Before(until) {
			return false
		}
		return true
	}
}

// SampleHops draws n distinct hops from store, honoring StrictConnect (which
// is placed first, in the order given, and is never subject to the suspect
// backoff or exclusion filter) and Blacklist/backoff exclusions for the
// remaining positions.
func SampleHops(store *rc.Store, n int, constraints Constraints, suspect map[rc.RouterID]time.Time, now time.Time) ([]*rc.RC, error) {
	var hops []*rc.RC
	seen := make(map[rc.RouterID]bool)

	for _, want := range constraints.StrictConnect {
		if len(hops) >= n {
			break
		}
		candidate, ok := store.Get(want)
		if !ok {
			return nil, fmt.Errorf("path: sample hops: strict-connect router %s not in store", want)
		}
		hops = append(hops, candidate)
		seen[want] = true
	}

	remaining := n - len(hops)
	if remaining > 0 {
		filter := constraints.filter(suspect, now)
		sample, err := store.RandomSample(remaining*2, func(id rc.RouterID, candidate *rc.RC) bool {
			if seen[id] {
				return false
			}
			return filter(id, candidate)
		})
		if err != nil {
			return nil, fmt.Errorf("path: sample hops: %w", err)
		}
		for _, candidate := range sample {
			if len(hops) >= n {
				break
			}
			id, err := candidate.RouterID()
			if err != nil {
				continue
			}
			if seen[id] {
				continue
			}
			hops = append(hops, candidate)
			seen[id] = true
		}
	}

	if len(hops) < n {
		return nil, fmt.Errorf("path: sample hops: only %d of %d requested hops available", len(hops), n)
	}
	return hops, nil
}

// hopSetHash identifies a specific ordered hop selection, used to enforce
// at most one in-flight build per hop-set hash and to prevent stampeding
// rebuilds. The destination is not part of that key.
func hopSetHash(hops []*rc.RC) ([32]byte, error) {
	h := sha256.New()
	for _, hop := range hops {
		id, err := hop.RouterID()
		if err != nil {
			return [32]byte{}, err
		}
		h.Write(id[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Sender delivers an LR_CommitMessage to the first hop of a
// partially-built path and returns the LR_StatusMessage it eventually
// receives back, or an error/timeout. It is implemented by the dispatch
// core, which owns the actual link sessions; the builder only constructs
// and interprets these messages.
type Sender interface {
	SendCommit(ctx context.Context, firstHop rc.RouterID, commit *CommitMessage) (*StatusMessage, error)
}

// Builder runs the client-side path build algorithm.
type Builder struct {
	provider crypto.Provider
	store    *rc.Store
	sender   Sender

	mu        sync.Mutex
	suspect   map[rc.RouterID]time.Time
	inflight  map[[32]byte]bool
	backoffOf map[rc.RouterID]time.Duration
}

// NewBuilder returns a path Builder backed by store for hop sampling and
// sender for delivering commit messages.
func NewBuilder(provider crypto.Provider, store *rc.Store, sender Sender) *Builder {
	return &Builder{
		provider:  provider,
		store:     store,
		sender:    sender,
		suspect:   make(map[rc.RouterID]time.Time),
		inflight:  make(map[[32]byte]bool),
		backoffOf: make(map[rc.RouterID]time.Duration),
	}
}

const (
	minBackoff = 5 * time.Second
	maxBackoff = 5 * time.Minute
	buildTimeout = 10 * time.Second
)

// Build samples n hops, constructs and sends an LR_CommitMessage, and
// returns the resulting Owned path once the terminal hop's
// LR_StatusMessage confirms success. If the send fails or times out, or a
// success status lacks a valid terminal signature, it marks the first hop
// suspect with exponential backoff and returns an error. A rejection status
// returns a KindPathBuildRejected error and marks no hop suspect.
func (b *Builder) Build(ctx context.Context, n int, constraints Constraints, now time.Time) (*Owned, error) {
	return b.build(ctx, n, constraints, now, false)
}

// BuildIntroduction is Build, except the terminal hop's record is flagged
// so the terminal relay registers itself as reachable by PathID alone:
// the service publishes this path's terminus as one of its introductions,
// and any client, not just the upstream hop that forwarded the commit,
// must be able to address it.
func (b *Builder) BuildIntroduction(ctx context.Context, n int, constraints Constraints, now time.Time) (*Owned, error) {
	return b.build(ctx, n, constraints, now, true)
}

func (b *Builder) build(ctx context.Context, n int, constraints Constraints, now time.Time, introduction bool) (*Owned, error) {
	b.mu.Lock()
	hops, err := SampleHops(b.store, n, constraints, b.suspect, now)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	hash, err := hopSetHash(hops)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.inflight[hash] {
		b.mu.Unlock()
		return nil, fmt.Errorf("path: build: a build for this hop set is already in flight")
	}
	b.inflight[hash] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, hash)
		b.mu.Unlock()
	}()

	owned, commit, err := b.prepare(hops, now, introduction)
	if err != nil {
		return nil, err
	}

	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	firstHop, err := hops[0].RouterID()
	if err != nil {
		return nil, err
	}

	status, err := b.sender.SendCommit(buildCtx, firstHop, commit)
	if err != nil {
		owned.State = StateFailed
		b.markSuspect(firstHop, now)
		return nil, llarperrors.Wrap(llarperrors.KindPathBuildTimeout, "path build timed out", err)
	}
	if status.Status != StatusOK {
		owned.State = StateFailed
		// The rejecting hop is not identified by StatusMessage in this wire
		// form, so no hop is marked suspect here.
		return nil, llarperrors.New(llarperrors.KindPathBuildRejected, fmt.Sprintf("hop rejected path build: %s", status.Status))
	}

	// Only a status signed by the terminal hop's identity key is accepted:
	// transit hops rewrite the message's PathID on the way upstream but
	// cannot forge the terminal's signature, so a fabricated StatusOK from
	// a middle hop fails here. The signature covers the terminal's own
	// ingress PathID, which the builder assigned (for a single-hop path
	// that id was chosen by the sender and echoed back in status.Path).
	terminal := owned.Hops[n-1]
	signedPath := terminal.IngressPath
	if n == 1 {
		signedPath = status.Path
	}
	if !status.VerifySignature(b.provider, terminal.Router, signedPath) {
		owned.State = StateFailed
		b.markSuspect(firstHop, now)
		return nil, llarperrors.New(llarperrors.KindPathBuildRejected, "status message signature does not verify")
	}

	// StatusMessage.Path carries whatever PathID the sender actually tagged
	// the LR_CommitMessage envelope with at hop 0 (never part of a sealed
	// record: each record only names the *next* hop's path id). Reconcile
	// it here so Owned.OutermostID() addresses traffic with the id hop 0
	// is actually expecting.
	owned.Hops[0].IngressPath = status.Path

	owned.State = StateEstablished
	owned.BuiltAt = now
	owned.ExpiresAt = now.Add(DefaultLifetime)
	owned.HopSetHash = hash
	return owned, nil
}

// prepare derives per-hop keys and builds the sealed LR_CommitMessage
// records for an ordered hop selection, without sending anything.
func (b *Builder) prepare(hops []*rc.RC, now time.Time, introduction bool) (*Owned, *CommitMessage, error) {
	n := len(hops)

	// Every hop's ingress PathID must be fixed before any record is sealed,
	// because hop i's record names hop i+1's ingress PathID as its NextPath.
	pathIDs := make([]ID, n)
	for i := range pathIDs {
		id, err := NewID(b.provider)
		if err != nil {
			return nil, nil, err
		}
		pathIDs[i] = id
	}

	owned := &Owned{Hops: make([]HopKeys, n), State: StateBuilding}
	records := make([][]byte, n)

	for i, hopRC := range hops {
		hopID, err := hopRC.RouterID()
		if err != nil {
			return nil, nil, err
		}

		var nextRouter rc.RouterID
		var nextPath ID
		terminal := i == n-1
		if !terminal {
			nextRouter, err = hops[i+1].RouterID()
			if err != nil {
				return nil, nil, err
			}
			nextPath = pathIDs[i+1]
		}

		rec := &record{
			NextRouter:   nextRouter,
			NextPath:     nextPath,
			Lifetime:     DefaultLifetime,
			ChainPos:     uint8(i),
			Terminal:     terminal,
			Introduction: terminal && introduction,
		}
		sealed, err := sealRecordFor(b.provider, hopRC, rec)
		if err != nil {
			return nil, nil, fmt.Errorf("path: prepare: hop %d: %w", i, err)
		}
		forward, backward := deriveHopKeys(b.provider, sealed.combined)

		owned.Hops[i] = HopKeys{
			Router:      hopID,
			IngressPath: pathIDs[i],
			ForwardKey:  forward,
			BackwardKey: backward,
		}
		records[i] = sealed.wire
	}

	return owned, &CommitMessage{PathLifetime: DefaultLifetime, Records: records}, nil
}

// MarkSuspect records hop as unreliable, applying exponentially increasing
// backoff to future hop sampling.
func (b *Builder) MarkSuspect(hop rc.RouterID, now time.Time) {
	b.markSuspect(hop, now)
}

func (b *Builder) markSuspect(hop rc.RouterID, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.backoffOf[hop]
	if cur == 0 {
		cur = minBackoff
	} else {
		cur *= 2
		if cur > maxBackoff {
			cur = maxBackoff
		}
	}
	b.backoffOf[hop] = cur
	b.suspect[hop] = now.Add(cur)
}

// SuspectUntil reports the time hop is excluded from sampling until, or the
// zero time if it is not currently suspect.
func (b *Builder) SuspectUntil(hop rc.RouterID) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspect[hop]
}

// sortedSuspects is a test/debug helper returning currently-suspect routers
// in a stable order.
func (b *Builder) sortedSuspects() []rc.RouterID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]rc.RouterID, 0, len(b.suspect))
	for id := range b.suspect {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
