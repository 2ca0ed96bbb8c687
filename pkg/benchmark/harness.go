package benchmark

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/iwp"
	"github.com/opd-ai/go-llarp/pkg/path"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// benchHop is an in-process relay: a signed router contact plus the
// secrets and transit table a real relay would hold.
type benchHop struct {
	rc       *rc.RC
	identity path.HopIdentity
	table    *path.Table
}

// newBenchHop generates a relay identity with signing, encryption and KEM
// keys and a signed router contact.
func newBenchHop(provider crypto.Provider) (*benchHop, error) {
	signPub, signSec, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("benchmark: generate signing key: %w", err)
	}
	encSec := make([]byte, crypto.PubKeySize)
	if err := provider.RandBytes(encSec); err != nil {
		return nil, fmt.Errorf("benchmark: rand bytes: %w", err)
	}
	encPub, err := curve25519.X25519(encSec, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("benchmark: derive encryption pub: %w", err)
	}
	kemPub, kemSec, err := provider.PQKeyGen()
	if err != nil {
		return nil, fmt.Errorf("benchmark: pq keygen: %w", err)
	}
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("benchmark: marshal kem pub: %w", err)
	}

	contact := &rc.RC{
		SigningPubKey:    signPub,
		EncryptionPubKey: encPub,
		KEMPublicKey:     kemPubBytes,
		Addresses:        []string{"127.0.0.1:1090"},
		Version:          1,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	contact.Sign(provider, signSec)

	return &benchHop{
		rc:       contact,
		identity: path.HopIdentity{EncryptionSecret: encSec, KEMSecret: kemSec, SigningSecret: signSec},
		table:    path.NewTable(),
	}, nil
}

// relaySender walks an LR_CommitMessage through the in-process relays
// synchronously, each installing its transit entry the way a networked
// relay would. Each step routes to the relay the previous record named,
// since hop sampling does not preserve relay order.
type relaySender struct {
	hops     []*benchHop
	provider crypto.Provider
	nextID   byte
}

func (s *relaySender) hopByID(id rc.RouterID) *benchHop {
	for _, h := range s.hops {
		hid, err := h.rc.RouterID()
		if err != nil {
			continue
		}
		if hid == id {
			return h
		}
	}
	return nil
}

func (s *relaySender) SendCommit(ctx context.Context, firstHop rc.RouterID, commit *path.CommitMessage) (*path.StatusMessage, error) {
	upstream := rc.RouterID{}
	target := firstHop
	current := commit
	now := time.Now()

	// Distinct hop-0 ingress ids per build keep the first relay's transit
	// table uniqueness invariant satisfied across repeated builds.
	s.nextID++
	var ingress path.ID
	ingress[0] = s.nextID
	firstIngress := ingress

	for range s.hops {
		h := s.hopByID(target)
		if h == nil {
			return nil, fmt.Errorf("benchmark: no relay with id %s", target)
		}
		outcome, err := path.HandleCommit(s.provider, h.identity, h.table, upstream, ingress, current, now)
		if err != nil {
			return nil, err
		}
		if outcome.Terminal {
			status := outcome.Status
			status.Path = firstIngress
			return status, nil
		}
		upstream = target
		target = outcome.NextRouter
		ingress = outcome.NextPath
		current = outcome.Forward
	}
	return &path.StatusMessage{Status: path.StatusReject}, nil
}

// buildEnvironment constructs a provider, an RC store populated with n
// in-process relays, and a builder wired to relay commits through them.
func buildEnvironment(n int) (crypto.Provider, *path.Builder, []*benchHop, error) {
	provider := crypto.New()
	store := rc.NewStore(provider)

	hops := make([]*benchHop, n)
	for i := range hops {
		h, err := newBenchHop(provider)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.Put(h.rc); err != nil {
			return nil, nil, nil, fmt.Errorf("benchmark: store.Put: %w", err)
		}
		hops[i] = h
	}

	sender := &relaySender{hops: hops, provider: provider}
	return provider, path.NewBuilder(provider, store, sender), hops, nil
}

// benchRC builds a signed router contact and returns it with its
// encryption secret, for link-session benchmarks.
func benchRC(provider crypto.Provider) (*rc.RC, []byte, error) {
	h, err := newBenchHop(provider)
	if err != nil {
		return nil, nil, err
	}
	return h.rc, h.identity.EncryptionSecret, nil
}

// establishedSessionPair runs the three-message IWP handshake between two
// fresh sessions and returns them Established.
func establishedSessionPair(provider crypto.Provider) (*iwp.Session, *iwp.Session, error) {
	now := time.Now()

	aRC, aEncSec, err := benchRC(provider)
	if err != nil {
		return nil, nil, err
	}
	bRC, bEncSec, err := benchRC(provider)
	if err != nil {
		return nil, nil, err
	}

	initiator := iwp.NewInitiator(provider, aRC, aEncSec)
	responder := iwp.NewResponder(provider, bRC, bEncSec)

	introWire, err := initiator.BeginHandshake(bRC.EncryptionPubKey, now)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: BeginHandshake: %w", err)
	}
	ackWire, err := responder.HandleIntro(introWire, now)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: HandleIntro: %w", err)
	}
	startWire, err := initiator.HandleIntroAck(ackWire, now)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: HandleIntroAck: %w", err)
	}
	if err := responder.HandleSessionStart(startWire, now); err != nil {
		return nil, nil, fmt.Errorf("benchmark: HandleSessionStart: %w", err)
	}
	return initiator, responder, nil
}
