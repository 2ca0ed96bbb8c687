package path

import (
	"fmt"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// State is the client-side lifecycle of a path this router built.
type State int

const (
	StateBuilding State = iota
	StateEstablished
	StateFailed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "Building"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// DefaultLifetime is the path lifetime the builder requests in the
// LR_CommitMessage.
const DefaultLifetime = 10 * time.Minute

// RebuildMargin is how long before expiry a proactive rebuild is triggered
// so the owner is never left without a usable path.
const RebuildMargin = 1 * time.Minute

// Owned is client-side state for a path this router built: the ordered hop
// list with per-hop keys, its builder status, and a revocable latency
// estimate from periodic probes.
type Owned struct {
	Hops      []HopKeys
	State     State
	BuiltAt   time.Time
	ExpiresAt time.Time

	LastProbe     time.Time
	Latency       time.Duration
	probeSent     time.Time
	probeTimeouts int
	HopSetHash    [32]byte
}

// MaxProbeTimeouts is the number of consecutive latency-probe timeouts
// after which a path is marked dead and its owner falls back to a
// sibling path.
const MaxProbeTimeouts = 3

// RecordProbeSent notes a latency probe going out at now.
func (o *Owned) RecordProbeSent(now time.Time) {
	o.probeSent = now
}

// RecordProbeReply records a probe round trip completing at now, updating
// the latency estimate and resetting the consecutive-timeout counter.
func (o *Owned) RecordProbeReply(now time.Time) {
	if !o.probeSent.IsZero() {
		o.Latency = now.Sub(o.probeSent)
	}
	o.LastProbe = now
	o.probeSent = time.Time{}
	o.probeTimeouts = 0
}

// RecordProbeTimeout counts a probe that never came back. After
// MaxProbeTimeouts consecutive timeouts the path is marked failed.
func (o *Owned) RecordProbeTimeout() {
	o.probeSent = time.Time{}
	o.probeTimeouts++
	if o.probeTimeouts >= MaxProbeTimeouts && o.State == StateEstablished {
		o.State = StateFailed
	}
}

// OutermostID is the PathID tagged on every envelope this router sends down
// the path; it is the ingress PathID installed at hop 0.
func (o *Owned) OutermostID() ID {
	if len(o.Hops) == 0 {
		return ID{}
	}
	return o.Hops[0].IngressPath
}

// ShouldRebuild reports whether a proactive rebuild should be started so the
// owner is never without a usable path.
func (o *Owned) ShouldRebuild(now time.Time) bool {
	return o.State == StateEstablished && now.Add(RebuildMargin).After(o.ExpiresAt)
}

// Expired reports whether the path's builder-granted lifetime has elapsed.
func (o *Owned) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// WrapOutbound applies n layers of encryption to payload, innermost
// first: C_{n-1} = enc(k_{n-1}, nonce_{n-1}, P), C_{n-2} =
// enc(k_{n-2}, nonce_{n-2}, C_{n-1} || nonce_{n-1}), and so on. It returns
// the outermost nonce and ciphertext; the caller tags the envelope with
// OutermostID() and sends it to Hops[0].Router.
func (o *Owned) WrapOutbound(provider crypto.Provider, payload []byte) (nonce, ciphertext []byte, err error) {
	if len(o.Hops) == 0 {
		return nil, nil, fmt.Errorf("path: wrap outbound: no hops")
	}
	plaintext := payload
	for i := len(o.Hops) - 1; i >= 0; i-- {
		if i != len(o.Hops)-1 {
			plaintext = append(append([]byte(nil), ciphertext...), nonce...)
		}
		n, ct, err := wrapOneLayer(provider, o.Hops[i].ForwardKey, plaintext)
		if err != nil {
			return nil, nil, fmt.Errorf("path: wrap outbound: hop %d: %w", i, err)
		}
		nonce, ciphertext = n, ct
	}
	return nonce, ciphertext, nil
}

// PeelInbound strips all n layers a returning packet accumulated: each
// hop added one layer applying its backward key, outermost-first as
// received, and the client strips all n on arrival.
func (o *Owned) PeelInbound(provider crypto.Provider, nonce, ciphertext []byte) ([]byte, error) {
	if len(o.Hops) == 0 {
		return nil, fmt.Errorf("path: peel inbound: no hops")
	}
	plain, err := peelOneLayer(provider, o.Hops[0].BackwardKey, nonce, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("path: peel inbound: hop 0: %w", err)
	}
	for i := 1; i < len(o.Hops); i++ {
		if len(plain) < crypto.NonceSize {
			return nil, fmt.Errorf("path: peel inbound: hop %d: truncated layer", i)
		}
		innerCT := plain[:len(plain)-crypto.NonceSize]
		innerNonce := plain[len(plain)-crypto.NonceSize:]
		plain, err = peelOneLayer(provider, o.Hops[i].BackwardKey, innerNonce, innerCT)
		if err != nil {
			return nil, fmt.Errorf("path: peel inbound: hop %d: %w", i, err)
		}
	}
	return plain, nil
}
