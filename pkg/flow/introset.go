package flow

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/path"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// Introduction is a tuple advertising that a named path terminates at a
// named router at a given time: "how to reach a service endpoint at a
// specific time" (GLOSSARY). It is valid while now < ExpiresAt.
type Introduction struct {
	Router    rc.RouterID
	Path      path.ID
	ExpiresAt time.Time
}

// Valid reports whether this introduction has not yet expired.
func (i Introduction) Valid(now time.Time) bool {
	return now.Before(i.ExpiresAt)
}

// IntroSet is the signed, DHT-published list of a service's current
// introductions. Typically 4-8 entries.
type IntroSet struct {
	ServiceAddr ServiceAddress
	// ServiceEncPubKey is the service's long-term X25519 key used to agree
	// a one-shot session key with a connecting client; it travels inside
	// the signed introset rather than a separate descriptor document.
	ServiceEncPubKey []byte
	Intros           []Introduction
	// Tag is a short topic tag for discovery, independent of ServiceAddr.
	Tag       [8]byte
	Seq       uint64
	Signature []byte
}

// signedPayload is the canonical encoding Sign/Verify operate over: every
// field except Signature, in a fixed order.
func (s *IntroSet) signedPayload() []byte {
	buf := make([]byte, 0, 64+len(s.Intros)*64)
	buf = append(buf, s.ServiceAddr[:]...)
	buf = append(buf, s.ServiceEncPubKey...)
	for _, intro := range s.Intros {
		buf = append(buf, intro.Router[:]...)
		buf = append(buf, intro.Path[:]...)
		expiry, _ := intro.ExpiresAt.UTC().MarshalBinary()
		buf = append(buf, expiry...)
	}
	buf = append(buf, s.Tag[:]...)
	var seq [8]byte
	for i := 0; i < 8; i++ {
		seq[i] = byte(s.Seq >> (56 - 8*i))
	}
	buf = append(buf, seq[:]...)
	return buf
}

// Sign computes and attaches the introset's signature using secret, which
// must correspond to ServiceAddr.
func (s *IntroSet) Sign(provider crypto.Provider, secret ed25519.PrivateKey) {
	sig := provider.Sign(secret, s.signedPayload())
	s.Signature = sig[:]
}

// HasLiveIntro reports whether at least one introduction has not expired.
func (s *IntroSet) HasLiveIntro(now time.Time) bool {
	for _, intro := range s.Intros {
		if intro.Valid(now) {
			return true
		}
	}
	return false
}

// Verify checks that the signature verifies under the service address
// and at least one introduction has not yet expired.
func (s *IntroSet) Verify(provider crypto.Provider, now time.Time) error {
	if !provider.Verify(s.ServiceAddr[:], s.signedPayload(), s.Signature) {
		return fmt.Errorf("flow: introset: signature does not verify")
	}
	if !s.HasLiveIntro(now) {
		return fmt.Errorf("flow: introset: no non-expired introduction")
	}
	return nil
}

// ShouldRepublish reports whether the publisher should replace its own
// introset before its earliest introduction expires.
func (s *IntroSet) ShouldRepublish(now time.Time, margin time.Duration) bool {
	earliest, ok := s.earliestExpiry()
	if !ok {
		return true
	}
	return now.Add(margin).After(earliest)
}

func (s *IntroSet) earliestExpiry() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, intro := range s.Intros {
		if !found || intro.ExpiresAt.Before(earliest) {
			earliest = intro.ExpiresAt
			found = true
		}
	}
	return earliest, found
}
