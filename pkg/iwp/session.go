package iwp

import (
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
	"github.com/opd-ai/go-llarp/pkg/security"
)

// sendQueueCapacity is the soft cap on a session's outbound frame queue
// before the oldest queued frame is dropped.
const sendQueueCapacity = 512

// Session is the per-peer link-layer state machine: a
// handshake, an established symmetric session key, fragmented message
// transport with retransmission and ACK coding, and keepalive/timeout
// tracking. Session owns no network socket; the caller (dispatch core's net
// I/O task) feeds it received datagrams via HandleFrame/HandleIntro/... and
// drains DrainOutbound for frames to actually transmit, so the whole state
// machine is driven by an external event loop.
type Session struct {
	Provider crypto.Provider
	Role     Role
	State    State

	// LocalRC is sent as our LIM once the session is established. The
	// caller is responsible for encoding/decoding the LIM envelope
	// content; Session only guarantees msgid 0 carries it and is
	// delivered first.
	LocalRC        *rc.RC
	LocalEncSecret []byte // our long-term X25519 secret, matches LocalRC.EncryptionPubKey

	PeerRC       *rc.RC
	PeerRouterID rc.RouterID
	peerBound    bool

	localEphPub, localEphSecret [crypto.PubKeySize]byte
	peerEphPub                  [crypto.PubKeySize]byte
	nonce1, nonceAck, nonce2    [32]byte
	token                       [32]byte
	handshakeDH                 []byte

	SessionKey []byte

	TxFlags     uint8
	RxFlagsSeen uint8

	Started      time.Time
	lastSent     time.Time
	lastReceived time.Time

	outboundNextID uint64 // next msgid this session assigns to a new message; 0 is reserved for LIM
	outbound       map[uint64]*transitMessage
	inbound        map[uint64]*transitMessage
	completed      map[uint64][]byte
	deliverNext    uint64 // strict in-order delivery cursor

	sendQ *sendQueue
}

// NewInitiator returns a session that will send the first Intro message.
func NewInitiator(provider crypto.Provider, localRC *rc.RC, localEncSecret []byte) *Session {
	return newSession(provider, RoleInitiator, localRC, localEncSecret)
}

// NewResponder returns a session that expects to receive an Intro message.
func NewResponder(provider crypto.Provider, localRC *rc.RC, localEncSecret []byte) *Session {
	return newSession(provider, RoleResponder, localRC, localEncSecret)
}

func newSession(provider crypto.Provider, role Role, localRC *rc.RC, localEncSecret []byte) *Session {
	return &Session{
		Provider:       provider,
		Role:           role,
		State:          StateInitial,
		LocalRC:        localRC,
		LocalEncSecret: localEncSecret,
		outbound:       make(map[uint64]*transitMessage),
		inbound:        make(map[uint64]*transitMessage),
		completed:      make(map[uint64][]byte),
		outboundNextID: 1,
		sendQ:          newSendQueue(sendQueueCapacity),
	}
}

func genEphemeral(provider crypto.Provider) (pub, secret [crypto.PubKeySize]byte, err error) {
	if err = provider.RandBytes(secret[:]); err != nil {
		return pub, secret, err
	}
	// This mirrors pkg/crypto's own use of curve25519 for DH: an X25519
	// keypair is a clamped random scalar plus its basepoint product.
	pubSlice, derr := x25519Basepoint(secret[:])
	if derr != nil {
		return pub, secret, derr
	}
	copy(pub[:], pubSlice)
	return pub, secret, nil
}

// BeginHandshake generates an ephemeral keypair and returns the wire bytes
// of the Intro message. peerEncPub is the
// responder's long-term encryption public key (from its RC).
func (s *Session) BeginHandshake(peerEncPub []byte, now time.Time) ([]byte, error) {
	pub, sec, err := genEphemeral(s.Provider)
	if err != nil {
		return nil, handshakeFailureErr("ephemeral keygen: " + err.Error())
	}
	s.localEphPub, s.localEphSecret = pub, sec

	if err := s.Provider.RandBytes(s.nonce1[:]); err != nil {
		return nil, handshakeFailureErr("nonce: " + err.Error())
	}

	derived, err := s.Provider.DHClient(peerEncPub, sec[:], s.nonce1[:])
	if err != nil {
		return nil, handshakeFailureErr("dh_client: " + err.Error())
	}
	s.handshakeDH = derived

	msg := &introMsg{EphemeralPub: pub, Nonce: s.nonce1}
	mac := s.Provider.HMAC(derived, msg.authenticatedPayload())
	msg.Authenticator = mac

	s.State = StateIntroSent
	s.Started = now
	s.lastSent = now
	return msg.encode(), nil
}

// HandleIntro processes an inbound Intro message as the responder, returning
// the wire bytes of the IntroAck reply.
func (s *Session) HandleIntro(raw []byte, now time.Time) ([]byte, error) {
	msg, err := decodeIntro(raw)
	if err != nil {
		return nil, handshakeFailureErr(err.Error())
	}

	derived, err := s.Provider.DHServer(msg.EphemeralPub[:], s.LocalEncSecret, msg.Nonce[:])
	if err != nil {
		return nil, handshakeFailureErr("dh_server: " + err.Error())
	}
	computed := s.Provider.HMAC(derived, msg.authenticatedPayload())
	if !security.ConstantTimeCompare(computed[:], msg.Authenticator[:]) {
		return nil, handshakeFailureErr("intro authenticator mismatch")
	}

	s.peerEphPub = msg.EphemeralPub
	s.nonce1 = msg.Nonce
	s.handshakeDH = derived
	s.State = StateIntroRecv

	pub, sec, err := genEphemeral(s.Provider)
	if err != nil {
		return nil, handshakeFailureErr("ephemeral keygen: " + err.Error())
	}
	s.localEphPub, s.localEphSecret = pub, sec

	if err := s.Provider.RandBytes(s.nonceAck[:]); err != nil {
		return nil, handshakeFailureErr("nonce: " + err.Error())
	}
	token, err := randomToken(s.Provider)
	if err != nil {
		return nil, handshakeFailureErr(err.Error())
	}
	s.token = token

	ack := &introAckMsg{Token: token, EphemeralPub: pub, Nonce: s.nonceAck}
	ackMAC := s.Provider.HMAC(derived, ack.authenticatedPayload())
	ack.Authenticator = ackMAC

	s.State = StateIntroAckSent
	s.Started = now
	s.lastSent = now
	return ack.encode(), nil
}

// HandleIntroAck processes the responder's IntroAck as the initiator,
// returning the wire bytes of the SessionStart message.
func (s *Session) HandleIntroAck(raw []byte, now time.Time) ([]byte, error) {
	ack, err := decodeIntroAck(raw)
	if err != nil {
		return nil, handshakeFailureErr(err.Error())
	}
	computed := s.Provider.HMAC(s.handshakeDH, ack.authenticatedPayload())
	if !security.ConstantTimeCompare(computed[:], ack.Authenticator[:]) {
		return nil, handshakeFailureErr("intro_ack authenticator mismatch")
	}

	s.peerEphPub = ack.EphemeralPub
	s.token = ack.Token
	s.State = StateIntroAckRecv

	if err := s.Provider.RandBytes(s.nonce2[:]); err != nil {
		return nil, handshakeFailureErr("nonce: " + err.Error())
	}
	s.SessionKey = deriveSessionKey(s.Provider, s.handshakeDH, s.token, s.nonce2)

	start := &sessionStartMsg{Token: s.token, Nonce2: s.nonce2}
	s.State = StateSessionStartSent
	s.lastSent = now
	return start.encode(), nil
}

// HandleSessionStart processes the initiator's SessionStart as the
// responder, finalizing the shared session key.
func (s *Session) HandleSessionStart(raw []byte, now time.Time) error {
	start, err := decodeSessionStart(raw)
	if err != nil {
		return handshakeFailureErr(err.Error())
	}
	if !security.ConstantTimeCompare(start.Token[:], s.token[:]) {
		return handshakeFailureErr("session_start token mismatch")
	}
	s.nonce2 = start.Nonce2
	s.SessionKey = deriveSessionKey(s.Provider, s.handshakeDH, s.token, s.nonce2)
	s.lastReceived = now
	return nil
}

// SendLIM enqueues the LIM (link-intro-message) as msgid 0, the first
// authenticated message delivered after Established. body is the envelope
// content (typically the caller's signed RC); Session treats it as opaque.
func (s *Session) SendLIM(body []byte, now time.Time) ([][]byte, error) {
	frames, err := s.enqueueMessageID(0, body, now)
	if err != nil {
		return nil, err
	}
	s.State = StateLIMSent
	return frames, nil
}

// BindPeer records the peer's identity once its LIM has been decoded by the
// dispatch core, transitioning the session to Established.
func (s *Session) BindPeer(peerRC *rc.RC) error {
	id, err := peerRC.RouterID()
	if err != nil {
		return err
	}
	s.PeerRC = peerRC
	s.PeerRouterID = id
	s.peerBound = true
	s.State = StateEstablished
	return nil
}

// PeerBound reports whether BindPeer has completed.
func (s *Session) PeerBound() bool { return s.peerBound }

// EnqueueMessage fragments body and queues it for transmission, returning
// its assigned msgid.
func (s *Session) EnqueueMessage(body []byte, now time.Time) (uint64, [][]byte, error) {
	id := s.outboundNextID
	s.outboundNextID++
	frames, err := s.enqueueMessageID(id, body, now)
	return id, frames, err
}

func (s *Session) enqueueMessageID(id uint64, body []byte, now time.Time) ([][]byte, error) {
	tm, err := fragmentMessage(s.Provider, id, body, MaxFragmentSize)
	if err != nil {
		return nil, err
	}
	tm.Started = now
	tm.LastActivity = now
	s.outbound[id] = tm

	var nonce [crypto.NonceSize]byte
	if err := s.Provider.RandBytes(nonce[:]); err != nil {
		return nil, err
	}
	xmit, err := encodeFrame(s.Provider, s.SessionKey, nonce[:], MsgXMIT, s.TxFlags, tm.xmitBody())
	if err != nil {
		return nil, err
	}
	s.sendQ.Push(xmit, now)

	// The XMIT carries only the last fragment inline; every full-size
	// fragment travels as its own FRAG frame.
	for idx := uint8(0); idx < tm.NumFrags; idx++ {
		f, err := s.encodeQueued(MsgFRAG, fragBody(id, idx, tm.fragments[idx]), now)
		if err != nil {
			return nil, err
		}
		s.sendQ.Push(f, now)
	}
	s.lastSent = now
	return s.sendQ.Drain(), nil
}

// DrainOutbound returns and clears every frame queued for transmission.
func (s *Session) DrainOutbound() [][]byte { return s.sendQ.Drain() }

// pushFrame encodes and enqueues one frame without draining the queue,
// so a caller processing several events (e.g. HandleFrame, Tick) can drain
// exactly once at the end and never lose frames pushed earlier in the same
// call.
func (s *Session) pushFrame(msgType MsgType, body []byte, now time.Time) error {
	var nonce [crypto.NonceSize]byte
	if err := s.Provider.RandBytes(nonce[:]); err != nil {
		return err
	}
	f, err := encodeFrame(s.Provider, s.SessionKey, nonce[:], msgType, s.TxFlags, body)
	if err != nil {
		return err
	}
	s.sendQ.Push(f, now)
	s.lastSent = now
	return nil
}

// HandleFrame decodes and processes one post-handshake frame. It returns
// messages newly delivered to the upper layer in strict ascending msgid
// order, plus any frames (ACKS/retransmits) that must now be sent.
func (s *Session) HandleFrame(raw []byte, now time.Time) (delivered [][]byte, toSend [][]byte, err error) {
	f, err := decodeFrame(s.Provider, s.SessionKey, raw)
	if err != nil {
		return nil, nil, err
	}
	s.RxFlagsSeen |= f.Flags
	s.lastReceived = now

	switch f.Type {
	case MsgALIV:
		// Liveness only; nothing to deliver or send.
	case MsgXMIT:
		if err := s.handleXMIT(f.Body, now); err != nil {
			return nil, nil, err
		}
	case MsgFRAG:
		if err := s.handleFRAG(f.Body, now); err != nil {
			return nil, nil, err
		}
	case MsgACKS:
		s.handleACKS(f.Body, now)
	default:
		return nil, nil, handshakeFailureErr("unknown inner message type")
	}

	delivered = s.drainDeliverable()
	toSend = s.sendQ.Drain()
	return delivered, toSend, nil
}

func (s *Session) handleXMIT(body []byte, now time.Time) error {
	tm, err := decodeXmitBody(body)
	if err != nil {
		return err
	}
	if tm.MsgID < s.deliverNext {
		return nil // duplicate of an already-delivered message; ignore
	}
	if _, ok := s.completed[tm.MsgID]; ok {
		return nil // duplicate XMIT for a completed-but-undelivered message
	}
	if _, ok := s.inbound[tm.MsgID]; ok {
		return nil // duplicate XMIT, ignored
	}
	tm.Started, tm.LastActivity = now, now
	s.inbound[tm.MsgID] = tm

	if tm.complete() {
		if err := s.completeInbound(tm, now); err != nil {
			return err
		}
	}
	return s.ackNow(tm, now)
}

func (s *Session) handleFRAG(body []byte, now time.Time) error {
	msgID, idx, data, err := decodeFragBody(body)
	if err != nil {
		return err
	}
	tm, ok := s.inbound[msgID]
	if !ok {
		return nil // late fragment for unknown/already-delivered message
	}
	newBit := tm.setFragment(idx, data)
	tm.LastActivity = now

	if tm.complete() {
		if err := s.completeInbound(tm, now); err != nil {
			return err
		}
		return s.ackNow(tm, now)
	}
	if newBit {
		return s.ackNow(tm, now)
	}
	if now.Sub(tm.LastAckSent) >= AcksMinInterval {
		return s.ackNow(tm, now)
	}
	return nil
}

func (s *Session) completeInbound(tm *transitMessage, now time.Time) error {
	body, err := tm.verify(s.Provider)
	if err != nil {
		delete(s.inbound, tm.MsgID)
		return nil // hash mismatch: silent discard, not surfaced
	}
	s.completed[tm.MsgID] = body
	delete(s.inbound, tm.MsgID)
	return nil
}

func (s *Session) ackNow(tm *transitMessage, now time.Time) error {
	if err := s.pushFrame(MsgACKS, acksBody(tm.MsgID, tm.Bitmask), now); err != nil {
		return err
	}
	tm.LastAckSent = now
	return nil
}

func (s *Session) handleACKS(body []byte, now time.Time) {
	msgID, mask, err := decodeAcksBody(body)
	if err != nil {
		return
	}
	tm, ok := s.outbound[msgID]
	if !ok {
		return
	}
	tm.applyAck(mask)
	tm.LastActivity = now
	tm.AckedOnce = true
	if tm.complete() {
		delete(s.outbound, msgID)
		return
	}
	// A bitmask with holes triggers immediate retransmission of the
	// unacknowledged fragments. The last fragment never
	// appears here: it rides in the XMIT, and an ACKS can only exist once
	// the receiver has the XMIT.
	for _, idx := range tm.missingFragments() {
		if idx == tm.lastFragmentIndex() {
			continue
		}
		if f, err := s.encodeQueued(MsgFRAG, fragBody(tm.MsgID, idx, tm.fragments[idx]), now); err == nil {
			s.sendQ.Push(f, now)
		}
	}
}

// drainDeliverable releases completed messages to the upper layer in
// strict ascending msgid order, advancing deliverNext only when the gap
// closes.
func (s *Session) drainDeliverable() [][]byte {
	var out [][]byte
	for {
		body, ok := s.completed[s.deliverNext]
		if !ok {
			break
		}
		out = append(out, body)
		delete(s.completed, s.deliverNext)
		s.deliverNext++
	}
	return out
}

// Tick drives time-based work: keepalive, retransmission, periodic ACKS and
// session timeout. The caller invokes this on every logic-task timer
// wakeup. It returns frames to send and whether the session has timed
// out and should be destroyed.
func (s *Session) Tick(now time.Time) (toSend [][]byte, timedOut bool) {
	if s.State == StateEstablished || s.State == StateLIMSent {
		if !s.lastReceived.IsZero() && now.Sub(s.lastReceived) >= DefaultSessionTimeout {
			s.State = StateTimeout
			return nil, true
		}
	}

	if s.SessionKey != nil && now.Sub(s.lastSent) >= DefaultKeepAlive {
		if err := s.pushFrame(MsgALIV, nil, now); err != nil {
			return s.sendQ.Drain(), false
		}
	}

	for _, tm := range s.outbound {
		if !tm.AckedOnce {
			if now.Sub(tm.Started) >= XmitRetransmitInterval {
				if f, err := s.encodeQueued(MsgXMIT, tm.xmitBody(), now); err == nil {
					s.sendQ.Push(f, now)
					tm.Started = now
				}
			}
			continue
		}
		if tm.complete() {
			continue
		}
		if now.Sub(tm.LastActivity) < FragRetransmitInterval {
			continue
		}
		for _, idx := range tm.missingFragments() {
			if idx == tm.lastFragmentIndex() {
				continue // last fragment travels inside XMIT only
			}
			body := fragBody(tm.MsgID, idx, tm.fragments[idx])
			if f, err := s.encodeQueued(MsgFRAG, body, now); err == nil {
				s.sendQ.Push(f, now)
			}
		}
		tm.LastActivity = now
	}

	for _, tm := range s.inbound {
		if !tm.complete() && now.Sub(tm.LastAckSent) >= AcksMinInterval {
			if f, err := s.encodeQueued(MsgACKS, acksBody(tm.MsgID, tm.Bitmask), now); err == nil {
				s.sendQ.Push(f, now)
				tm.LastAckSent = now
			}
		}
	}

	return s.sendQ.Drain(), false
}

func (s *Session) encodeQueued(msgType MsgType, body []byte, now time.Time) ([]byte, error) {
	var nonce [crypto.NonceSize]byte
	if err := s.Provider.RandBytes(nonce[:]); err != nil {
		return nil, err
	}
	return encodeFrame(s.Provider, s.SessionKey, nonce[:], msgType, s.TxFlags, body)
}

// AgreedFlags reports the session-level feature bits both sides have
// advertised (rx_flags & tx_flags)
func (s *Session) AgreedFlags() uint8 { return s.TxFlags & s.RxFlagsSeen }

// Invalidate marks the session for renegotiation by setting the
// eSessionInvalidated bit on every future outbound frame.
func (s *Session) Invalidate() { s.TxFlags |= FlagSessionInvalidated }
