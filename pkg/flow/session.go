package flow

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/trace"
)

// x25519Pub derives the public key for a clamped X25519 secret. Mirrors
// pkg/path's and pkg/iwp's identical unexported helper: each package
// computes its own ephemeral key pairs and none shares this trivial
// derivation across a package boundary.
func x25519Pub(secret []byte) ([]byte, error) {
	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("flow: x25519Pub: %w", err)
	}
	return pub, nil
}

// sessionKeyLabel distinguishes the flow layer's session-key derivation
// from pkg/path's and pkg/iwp's. The flow and path layers hash their
// DH/DH+KEM secret with Hash; pkg/iwp uses ShortHash.
const sessionKeyLabel = "go-llarp-flow-session-v1"

// State is a FlowSession's lifecycle, narrowed to the handshake this
// layer actually runs.
type State int

const (
	StatePending State = iota
	StateEstablished
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateEstablished:
		return "Established"
	case StateRejected:
		return "Rejected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is per-ConvoTag endpoint state: the
// remote ServiceAddress, the shared symmetric key derived during
// handshake, the next outbound sequence number, and a replay window over
// inbound sequence numbers.
type Session struct {
	mu sync.Mutex

	ConvoTag   ConvoTag
	Remote     ServiceAddress
	SharedKey  []byte
	State      State
	LastIntro  Introduction
	CreatedAt  time.Time
	nextOutSeq uint64
	inbound    *ReplayWindow
}

// NextOutboundSeq returns the next sequence number to assign an outbound
// data frame and advances the counter.
func (s *Session) NextOutboundSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.nextOutSeq
	s.nextOutSeq++
	return seq
}

// AcceptInbound applies this session's replay window to an inbound
// sequence number.
func (s *Session) AcceptInbound(seq uint64) bool {
	return s.inbound.Accept(seq)
}

// Endpoint is a local flow-layer identity: either a hidden service
// publishing introductions, a client establishing outbound flows, or both.
// It owns the service identity keys, the signed introset they produce,
// and a per-ConvoTag session table.
type Endpoint struct {
	Provider  crypto.Provider
	Address   ServiceAddress
	identity  ed25519.PrivateKey
	encSecret []byte
	EncPublic []byte

	// Auth gates inbound flow establishment; nil means no authentication
	// is configured.
	Auth AuthPolicy

	// Tracer, when set, spans flow establishment on both the opening and
	// accepting side. Nil leaves the endpoint untraced.
	Tracer *trace.Tracer

	mu       sync.Mutex
	sessions map[ConvoTag]*Session
}

// NewEndpoint returns an Endpoint for the given long-term identity and
// X25519 encryption keys. encSecret/encPublic are the keys published in the
// endpoint's own IntroSet.ServiceEncPubKey for inbound handshakes.
func NewEndpoint(provider crypto.Provider, identity ed25519.PrivateKey, encSecret, encPublic []byte) (*Endpoint, error) {
	pub, ok := identity.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("flow: new endpoint: invalid identity key")
	}
	addr, err := ServiceAddressFromKey(pub)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		Provider:  provider,
		Address:   addr,
		identity:  identity,
		encSecret: encSecret,
		EncPublic: encPublic,
		sessions:  make(map[ConvoTag]*Session),
	}, nil
}

// Session returns the tracked session for tag, if any.
func (e *Endpoint) Session(tag ConvoTag) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[tag]
	return s, ok
}

func (e *Endpoint) putSession(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[s.ConvoTag] = s
}

// CloseSession removes a tracked session, e.g. on the owning path's
// teardown.
func (e *Endpoint) CloseSession(tag ConvoTag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[tag]; ok {
		s.State = StateClosed
	}
	delete(e.sessions, tag)
}

// OpenFlow begins session establishment toward an introduction advertised
// by remote's introset. remoteEncPub is
// introset.ServiceEncPubKey. authToken, if non-nil, is presented to the
// remote endpoint's AuthPolicy. It returns the new (Pending) session and
// the KindOpen frame to send, addressed by the caller to
// (intro.Router, intro.Path).
func (e *Endpoint) OpenFlow(remote ServiceAddress, remoteEncPub []byte, intro Introduction, authToken []byte, initialPayload []byte, now time.Time) (*Session, *Frame, error) {
	if e.Tracer == nil {
		return e.openFlow(remote, remoteEncPub, intro, authToken, initialPayload, now)
	}
	var session *Session
	var frame *Frame
	err := trace.WithSpan(context.Background(), e.Tracer, trace.OpFlowEstablish, trace.SpanKindClient, func(ctx context.Context, span *trace.Span) error {
		span.SetAttribute("remote", remote.String())
		span.SetAttribute("intro_router", intro.Router.String())
		var err error
		session, frame, err = e.openFlow(remote, remoteEncPub, intro, authToken, initialPayload, now)
		return err
	})
	return session, frame, err
}

func (e *Endpoint) openFlow(remote ServiceAddress, remoteEncPub []byte, intro Introduction, authToken []byte, initialPayload []byte, now time.Time) (*Session, *Frame, error) {
	tag, err := NewConvoTag(e.Provider)
	if err != nil {
		return nil, nil, err
	}

	var ephSecret [crypto.PubKeySize]byte
	if err := e.Provider.RandBytes(ephSecret[:]); err != nil {
		return nil, nil, fmt.Errorf("flow: open flow: ephemeral secret: %w", err)
	}
	ephPub, err := x25519Pub(ephSecret[:])
	if err != nil {
		return nil, nil, err
	}
	var ephPubArr [crypto.PubKeySize]byte
	copy(ephPubArr[:], ephPub)

	var nonce [32]byte
	if err := e.Provider.RandBytes(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("flow: open flow: nonce: %w", err)
	}

	shared, err := e.Provider.DHClient(remoteEncPub, ephSecret[:], nonce[:])
	if err != nil {
		return nil, nil, fmt.Errorf("flow: open flow: dh: %w", err)
	}
	sessionKey := deriveSessionKey(e.Provider, tag, shared)

	sigInput := openSignedPayload(tag, ephPubArr, nonce)
	sig := e.Provider.Sign(e.identity, sigInput)

	payloadNonce, ciphertext, err := sealPayload(e.Provider, sessionKey, initialPayload)
	if err != nil {
		return nil, nil, err
	}

	frame := &Frame{
		Kind:           KindOpen,
		ConvoTag:       tag,
		Seq:            0,
		SenderIdentity: e.identity.Public().(ed25519.PublicKey),
		EphPub:         ephPubArr,
		HandshakeNonce: nonce,
		Signature:      sig,
		AuthToken:      authToken,
		PayloadNonce:   payloadNonce,
		Ciphertext:     ciphertext,
	}

	session := &Session{
		ConvoTag:   tag,
		Remote:     remote,
		SharedKey:  sessionKey,
		State:      StatePending,
		LastIntro:  intro,
		CreatedAt:  now,
		nextOutSeq: 1,
		inbound:    NewReplayWindow(),
	}
	e.putSession(session)

	return session, frame, nil
}

// HandleOpen processes an inbound KindOpen frame: it
// recomputes the shared secret, verifies the client's signature, checks
// Auth if configured, and installs an Established session. On
// authentication failure it returns a KindReject frame and
// KindFlowRejectedByAuth instead of a session.
func (e *Endpoint) HandleOpen(frame *Frame, now time.Time) (*Session, *Frame, []byte, error) {
	if e.Tracer == nil {
		return e.handleOpen(frame, now)
	}
	var session *Session
	var reply *Frame
	var payload []byte
	err := trace.WithSpan(context.Background(), e.Tracer, trace.OpFlowEstablish, trace.SpanKindServer, func(ctx context.Context, span *trace.Span) error {
		span.SetAttribute("convo_tag", frame.ConvoTag.String())
		var err error
		session, reply, payload, err = e.handleOpen(frame, now)
		return err
	})
	return session, reply, payload, err
}

func (e *Endpoint) handleOpen(frame *Frame, now time.Time) (*Session, *Frame, []byte, error) {
	if frame.Kind != KindOpen {
		return nil, nil, nil, fmt.Errorf("flow: handle open: wrong frame kind %s", frame.Kind)
	}

	sigInput := openSignedPayload(frame.ConvoTag, frame.EphPub, frame.HandshakeNonce)
	if !e.Provider.Verify(frame.SenderIdentity, sigInput, frame.Signature[:]) {
		return nil, nil, nil, fmt.Errorf("flow: handle open: sender signature does not verify")
	}

	if e.Auth != nil && !e.Auth.Accept(frame.AuthToken) {
		reject := &Frame{Kind: KindReject, ConvoTag: frame.ConvoTag, Reason: "unauthorized"}
		return nil, reject, nil, flowRejectedByAuthErr("bearer token rejected")
	}

	shared, err := e.Provider.DHServer(frame.EphPub[:], e.encSecret, frame.HandshakeNonce[:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("flow: handle open: dh: %w", err)
	}
	sessionKey := deriveSessionKey(e.Provider, frame.ConvoTag, shared)

	payload, err := openPayload(e.Provider, sessionKey, frame.PayloadNonce, frame.Ciphertext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("flow: handle open: %w", err)
	}

	remoteAddr, err := ServiceAddressFromKey(frame.SenderIdentity)
	if err != nil {
		return nil, nil, nil, err
	}

	session := &Session{
		ConvoTag:   frame.ConvoTag,
		Remote:     remoteAddr,
		SharedKey:  sessionKey,
		State:      StateEstablished,
		CreatedAt:  now,
		nextOutSeq: 1,
		inbound:    NewReplayWindow(),
	}
	session.inbound.Accept(frame.Seq)
	e.putSession(session)

	acceptNonce, acceptCT, err := sealPayload(e.Provider, sessionKey, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	accept := &Frame{
		Kind:         KindAccept,
		ConvoTag:     frame.ConvoTag,
		Seq:          0,
		PayloadNonce: acceptNonce,
		Ciphertext:   acceptCT,
	}
	return session, accept, payload, nil
}

// HandleAccept completes the initiator side of the handshake: it marks the
// pending session Established and decrypts the reply payload.
func (e *Endpoint) HandleAccept(frame *Frame) (*Session, []byte, error) {
	if frame.Kind != KindAccept {
		return nil, nil, fmt.Errorf("flow: handle accept: wrong frame kind %s", frame.Kind)
	}
	session, ok := e.Session(frame.ConvoTag)
	if !ok {
		return nil, nil, fmt.Errorf("flow: handle accept: unknown convo tag %s", frame.ConvoTag)
	}
	payload, err := openPayload(e.Provider, session.SharedKey, frame.PayloadNonce, frame.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("flow: handle accept: %w", err)
	}
	session.mu.Lock()
	session.State = StateEstablished
	session.mu.Unlock()
	session.inbound.Accept(frame.Seq)
	return session, payload, nil
}

// SendData encrypts payload under the session's SharedKey and assigns the
// next outbound sequence number.
func (e *Endpoint) SendData(session *Session, payload []byte) (*Frame, error) {
	nonce, ciphertext, err := sealPayload(e.Provider, session.SharedKey, payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Kind:         KindData,
		ConvoTag:     session.ConvoTag,
		Seq:          session.NextOutboundSeq(),
		PayloadNonce: nonce,
		Ciphertext:   ciphertext,
	}, nil
}

// HandleData decrypts an inbound KindData frame, applying the session's
// replay window first: duplicates are discarded, in-window reorderings
// delivered as they arrive.
func (e *Endpoint) HandleData(frame *Frame) (*Session, []byte, error) {
	session, ok := e.Session(frame.ConvoTag)
	if !ok {
		return nil, nil, fmt.Errorf("flow: handle data: unknown convo tag %s", frame.ConvoTag)
	}
	if !session.AcceptInbound(frame.Seq) {
		return session, nil, replayDetectedErr(frame.ConvoTag, frame.Seq)
	}
	payload, err := openPayload(e.Provider, session.SharedKey, frame.PayloadNonce, frame.Ciphertext)
	if err != nil {
		return session, nil, fmt.Errorf("flow: handle data: %w", err)
	}
	return session, payload, nil
}

func deriveSessionKey(provider crypto.Provider, tag ConvoTag, shared []byte) []byte {
	material := provider.Hash(append(append(append([]byte(nil), shared...), tag[:]...), []byte(sessionKeyLabel)...))
	return append([]byte(nil), material[:crypto.SharedKeySize]...)
}
