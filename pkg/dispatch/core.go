package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	llarperrors "github.com/opd-ai/go-llarp/pkg/errors"
	"github.com/opd-ai/go-llarp/pkg/flow"
	"github.com/opd-ai/go-llarp/pkg/iwp"
	"github.com/opd-ai/go-llarp/pkg/logger"
	"github.com/opd-ai/go-llarp/pkg/path"
	"github.com/opd-ai/go-llarp/pkg/rc"
	"github.com/opd-ai/go-llarp/pkg/trace"
)

// Outbound is one frame this Core needs the net I/O task to send. Core
// never touches a socket itself: the logic task only enqueues, and a
// separate net I/O task performs the actual non-blocking send/recv.
type Outbound struct {
	Addr string
	Data []byte
}

// Core is the dispatch core: the single logic-task-owned coordinator
// holding the link-session table, the transit path table, this router's
// own owned paths, and its local service endpoints, plus the demux that
// routes a reassembled link message to whichever of those it belongs to.
type Core struct {
	log      *logger.Logger
	provider crypto.Provider

	localRC        *rc.RC
	localEncSecret []byte
	hopIdentity    path.HopIdentity

	rcStore *rc.Store

	sessions *sessionTable

	mu             sync.Mutex
	transit        *path.Table
	owned          map[path.ID]*path.Owned
	introTerminals map[path.ID]*path.Entry // introduction points, reachable by PathID alone
	endpoints      map[flow.ServiceAddress]*flow.Endpoint
	convoOwner     map[flow.ConvoTag]flow.ServiceAddress
	introsets      *flow.IntroSetStore
	pendingLookups map[uint64]*flow.PendingLookup
	pendingCommits map[path.ID]chan *path.StatusMessage
	nextTxID       uint64

	// onOutbound receives frames produced by SendCommit, which sends before
	// InboundPacket's normal call/return path has a chance to carry them.
	// cmd/node wires this to its net I/O task's send queue.
	onOutbound func([]Outbound)

	tracer *trace.Tracer
}

// SetTracer installs a tracer used to span path builds, link handshakes
// and the DHT introset operations. Without one, Core runs untraced.
func (c *Core) SetTracer(t *trace.Tracer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracer = t
}

// withSpan runs fn inside a traced span when a tracer is installed.
func (c *Core) withSpan(op string, kind trace.SpanKind, attrs map[string]interface{}, fn func() ([]Outbound, error)) ([]Outbound, error) {
	c.mu.Lock()
	tracer := c.tracer
	c.mu.Unlock()
	if tracer == nil {
		return fn()
	}
	var out []Outbound
	err := trace.WithSpan(context.Background(), tracer, op, kind, func(ctx context.Context, span *trace.Span) error {
		span.SetAttributes(attrs)
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// SetOutboundHandler installs the callback SendCommit uses to hand off its
// initial LRCM frame to the net I/O task.
func (c *Core) SetOutboundHandler(fn func([]Outbound)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOutbound = fn
}

// NewCore constructs a dispatch core for a router whose identity is localRC,
// with localEncSecret/hopIdentity the long-term key material needed to
// complete handshakes and open LR_CommitMessage records addressed to this
// router.
func NewCore(log *logger.Logger, provider crypto.Provider, localRC *rc.RC, localEncSecret []byte, hopIdentity path.HopIdentity, rcStore *rc.Store) *Core {
	return &Core{
		log:            log,
		provider:       provider,
		localRC:        localRC,
		localEncSecret: localEncSecret,
		hopIdentity:    hopIdentity,
		rcStore:        rcStore,
		sessions:       newSessionTable(),
		transit:        path.NewTable(),
		owned:          make(map[path.ID]*path.Owned),
		introTerminals: make(map[path.ID]*path.Entry),
		endpoints:      make(map[flow.ServiceAddress]*flow.Endpoint),
		convoOwner:     make(map[flow.ConvoTag]flow.ServiceAddress),
		introsets:      flow.NewIntroSetStore(provider),
		pendingLookups: make(map[uint64]*flow.PendingLookup),
		pendingCommits: make(map[path.ID]chan *path.StatusMessage),
	}
}

// RegisterEndpoint makes a local hidden-service endpoint reachable: any
// inbound DATA/PATH frame addressed to addr's sessions is delivered to ep.
func (c *Core) RegisterEndpoint(addr flow.ServiceAddress, ep *flow.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[addr] = ep
}

// RegisterOwned tracks a path this router built so return traffic addressed
// to its outermost PathID is peeled and delivered rather than treated as
// transit.
func (c *Core) RegisterOwned(o *path.Owned) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[o.OutermostID()] = o
}

// Owned returns the owned path registered under id, if any.
func (c *Core) Owned(id path.ID) (*path.Owned, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.owned[id]
	return o, ok
}

// Transit exposes the transit table for sweeping and introspection.
func (c *Core) Transit() *path.Table { return c.transit }

// OpenInitiator starts a handshake to addr/peerEncPub and registers the
// pending session, returning the first wire frame (Intro) to send.
func (c *Core) OpenInitiator(addr string, peerEncPub []byte, now time.Time) (*Outbound, error) {
	s := iwp.NewInitiator(c.provider, c.localRC, c.localEncSecret)
	intro, err := s.BeginHandshake(peerEncPub, now)
	if err != nil {
		return nil, err
	}
	c.sessions.putPending(addr, s)
	return &Outbound{Addr: addr, Data: intro}, nil
}

// InboundPacket feeds one received UDP datagram from addr into the session
// addressed there (creating a fresh Responder session on first contact),
// driving the handshake state machine or, once Established, decoding and
// demuxing post-handshake envelopes. It returns every frame that must now
// be sent in response.
func (c *Core) InboundPacket(addr string, raw []byte, now time.Time) ([]Outbound, error) {
	s, ok := c.sessions.byAddress(addr)
	if !ok {
		s = iwp.NewResponder(c.provider, c.localRC, c.localEncSecret)
		c.sessions.putPending(addr, s)
	}

	switch s.State {
	case iwp.StateInitial:
		ack, err := s.HandleIntro(raw, now)
		if err != nil {
			return nil, err
		}
		return []Outbound{{Addr: addr, Data: ack}}, nil

	case iwp.StateIntroSent:
		return c.withSpan(trace.OpLinkHandshake, trace.SpanKindClient, map[string]interface{}{"peer_addr": addr}, func() ([]Outbound, error) {
			start, err := s.HandleIntroAck(raw, now)
			if err != nil {
				return nil, err
			}
			out := []Outbound{{Addr: addr, Data: start}}
			limFrames, err := c.sendLIM(s, now)
			if err != nil {
				return nil, err
			}
			return append(out, addrFrames(addr, limFrames)...), nil
		})

	case iwp.StateIntroAckSent:
		return c.withSpan(trace.OpLinkHandshake, trace.SpanKindServer, map[string]interface{}{"peer_addr": addr}, func() ([]Outbound, error) {
			if err := s.HandleSessionStart(raw, now); err != nil {
				return nil, err
			}
			limFrames, err := c.sendLIM(s, now)
			if err != nil {
				return nil, err
			}
			return addrFrames(addr, limFrames), nil
		})

	default:
		delivered, toSend, err := s.HandleFrame(raw, now)
		if err != nil {
			return nil, err
		}
		out := addrFrames(addr, toSend)
		for _, body := range delivered {
			more, err := c.handleDelivered(addr, s, body, now)
			if err != nil {
				c.log.Warn("dispatch: dropping delivered message", "error", err)
				continue
			}
			out = append(out, more...)
		}
		return out, nil
	}
}

func (c *Core) sendLIM(s *iwp.Session, now time.Time) ([][]byte, error) {
	body, err := c.localRC.Encode()
	if err != nil {
		return nil, err
	}
	return s.SendLIM(body, now)
}

func addrFrames(addr string, frames [][]byte) []Outbound {
	out := make([]Outbound, 0, len(frames))
	for _, f := range frames {
		out = append(out, Outbound{Addr: addr, Data: f})
	}
	return out
}

// handleDelivered processes one in-order delivered link message. msgid 0 is
// always the peer's LIM; everything after is an Envelope.
func (c *Core) handleDelivered(addr string, s *iwp.Session, body []byte, now time.Time) ([]Outbound, error) {
	if !s.PeerBound() {
		peerRC, err := rc.DecodeRC(body)
		if err != nil {
			return nil, fmt.Errorf("dispatch: decode LIM: %w", err)
		}
		if err := peerRC.Verify(c.provider, now); err != nil {
			return nil, fmt.Errorf("dispatch: LIM verify: %w", err)
		}
		if err := s.BindPeer(peerRC); err != nil {
			return nil, err
		}
		c.sessions.bind(addr, s.PeerRouterID, s)
		if c.rcStore != nil {
			_ = c.rcStore.Put(peerRC)
		}
		return nil, nil
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode envelope: %w", err)
	}
	return c.handleEnvelope(s.PeerRouterID, env, now)
}

// handleEnvelope is the demux named: it inspects the outer
// tag and routes to the table that owns it.
func (c *Core) handleEnvelope(from rc.RouterID, env *Envelope, now time.Time) ([]Outbound, error) {
	switch env.Tag {
	case TagLRCM:
		return c.handleLRCM(from, env.Body, now)
	case TagLRSM:
		return c.handleLRSM(from, env.Body, now)
	case TagPATH:
		return c.handlePathMessage(from, env.Body, now)
	case TagDHT:
		return c.handleDHT(from, env.Body, now)
	default:
		c.log.Warn("dispatch: unknown envelope tag dropped", "tag", string(env.Tag))
		return nil, nil
	}
}

// handleLRCM processes an inbound LR_CommitMessage: open this hop's record,
// install a transit entry, and either forward the stripped remainder or (at
// the terminus) reply with an LR_StatusMessage.
func (c *Core) handleLRCM(from rc.RouterID, body []byte, now time.Time) ([]Outbound, error) {
	wire, err := DecodeLRCMWire(body)
	if err != nil {
		return nil, err
	}
	commit := &path.CommitMessage{
		PathLifetime: time.Duration(wire.PathLifetime),
		Records:      wire.Records,
	}

	outcome, err := path.HandleCommit(c.provider, c.hopIdentity, c.transit, from, wire.IngressPath, commit, now)
	if err != nil {
		return nil, llarperrors.Wrap(llarperrors.KindPathBuildRejected, "dispatch: handle commit", err)
	}

	if outcome.Entry.Introduction {
		c.mu.Lock()
		c.introTerminals[wire.IngressPath] = outcome.Entry
		c.mu.Unlock()
	}

	if outcome.Terminal {
		status := &LRSMWire{PathID: wire.IngressPath, Status: outcome.Status.Status}
		copy(status.Signature[:], outcome.Status.Signature)
		return c.sendTo(outcome.Entry.UpstreamRouter, &Envelope{Tag: TagLRSM, Version: envelopeVersion, Body: status.Encode()}, now)
	}

	forward := &LRCMWire{
		IngressPath:  outcome.NextPath,
		PathLifetime: int64(outcome.Forward.PathLifetime),
		Records:      outcome.Forward.Records,
	}
	return c.sendTo(outcome.NextRouter, &Envelope{Tag: TagLRCM, Version: envelopeVersion, Body: forward.Encode()}, now)
}

// handleLRSM processes an inbound LR_StatusMessage, either completing a
// local path build (this router was the builder) or relaying it one hop
// further upstream (this router is a transit hop on someone else's build).
func (c *Core) handleLRSM(from rc.RouterID, body []byte, now time.Time) ([]Outbound, error) {
	wire, err := DecodeLRSMWire(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	ch, ok := c.pendingCommits[wire.PathID]
	c.mu.Unlock()
	if ok {
		status := &path.StatusMessage{
			Path:      wire.PathID,
			Status:    wire.Status,
			Signature: append([]byte(nil), wire.Signature[:]...),
		}
		select {
		case ch <- status:
		default:
		}
		return nil, nil
	}

	entry, ok := c.transit.LookupEgress(from, wire.PathID)
	if !ok {
		return nil, noTransitEntryErr()
	}
	relayed := &LRSMWire{PathID: entry.IngressPath, Status: wire.Status, Signature: wire.Signature}
	return c.sendTo(entry.UpstreamRouter, &Envelope{Tag: TagLRSM, Version: envelopeVersion, Body: relayed.Encode()}, now)
}

// handlePathMessage routes one onion-layer PATH message:
// owned-path return traffic, forward transit, backward transit, or (for an
// introduction-flagged terminal entry) a fresh client frame being injected
// into the return path toward the service that owns it.
func (c *Core) handlePathMessage(from rc.RouterID, body []byte, now time.Time) ([]Outbound, error) {
	msg, err := DecodePathMessage(body)
	if err != nil {
		return nil, err
	}

	if entry, ok := c.transit.LookupIngress(from, msg.PathID); ok {
		return c.forwardDown(entry, msg, now)
	}
	if entry, ok := c.transit.LookupEgress(from, msg.PathID); ok {
		return c.forwardUp(entry, msg, now)
	}
	if owned, ok := c.Owned(msg.PathID); ok {
		return c.deliverToOwner(owned, msg, now)
	}

	c.mu.Lock()
	entry, ok := c.introTerminals[msg.PathID]
	c.mu.Unlock()
	if ok {
		// A client reaching this introduction point directly (over its own
		// link session, addressing our PathID as published in the
		// IntroSet) has no relationship with entry.ForwardKey: msg.Ciphertext
		// is already the plaintext introduce payload, not a layer to peel.
		// Originate it as the first backward hop toward the service that
		// owns this path.
		return c.originateBackward(entry, msg.Ciphertext, now)
	}

	return nil, noTransitEntryErr()
}

func (c *Core) forwardDown(entry *path.Entry, msg *PathMessage, now time.Time) ([]Outbound, error) {
	nonce, ciphertext, payload, err := c.transit.PeelForward(c.provider, entry, msg.Nonce, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("dispatch: forward down: %w", err)
	}
	if entry.Terminal {
		if entry.Introduction {
			// A fresh client frame addressed directly to an introduction
			// point: originate the first backward layer from the raw
			// peeled payload and send it upstream toward the service that
			// owns this path.
			return c.originateBackward(entry, payload, now)
		}
		return c.deliverLocal(payload, now)
	}
	next := &PathMessage{PathID: entry.EgressPath, Nonce: nonce, Ciphertext: ciphertext}
	return c.sendTo(entry.DownstreamRouter, &Envelope{Tag: TagPATH, Version: envelopeVersion, Body: next.Encode()}, now)
}

// forwardUp relays a backward-direction packet already received from
// downstream one more layer toward the path owner: the incoming (nonce,
// ciphertext) pair is folded into a single blob and re-encrypted under this
// hop's backward key, exactly as Owned.PeelInbound expects to unwind it.
func (c *Core) forwardUp(entry *path.Entry, msg *PathMessage, now time.Time) ([]Outbound, error) {
	combined := append(append([]byte(nil), msg.Ciphertext...), msg.Nonce...)
	return c.originateBackward(entry, combined, now)
}

// originateBackward adds entry's backward layer to payload and sends the
// result upstream tagged with entry.IngressPath.
func (c *Core) originateBackward(entry *path.Entry, payload []byte, now time.Time) ([]Outbound, error) {
	nonce, ciphertext, err := c.transit.AddBackward(c.provider, entry, payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: add backward layer: %w", err)
	}
	next := &PathMessage{PathID: entry.IngressPath, Nonce: nonce, Ciphertext: ciphertext}
	return c.sendTo(entry.UpstreamRouter, &Envelope{Tag: TagPATH, Version: envelopeVersion, Body: next.Encode()}, now)
}

func (c *Core) deliverToOwner(owned *path.Owned, msg *PathMessage, now time.Time) ([]Outbound, error) {
	payload, err := owned.PeelInbound(c.provider, msg.Nonce, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("dispatch: deliver to owner: %w", err)
	}
	return c.deliverLocal(payload, now)
}

// deliverLocal decodes a fully-peeled payload as a flow.Frame and routes
// it to the endpoint owning its ConvoTag.
func (c *Core) deliverLocal(payload []byte, now time.Time) ([]Outbound, error) {
	frame, err := flow.DecodeFrame(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode frame: %w", err)
	}

	if frame.Kind == flow.KindOpen {
		return c.handleFlowOpen(frame, now)
	}

	c.mu.Lock()
	addr, ok := c.convoOwner[frame.ConvoTag]
	var ep *flow.Endpoint
	if ok {
		ep = c.endpoints[addr]
	}
	c.mu.Unlock()
	if ep == nil {
		return nil, fmt.Errorf("dispatch: no endpoint for convo tag %s", frame.ConvoTag)
	}

	switch frame.Kind {
	case flow.KindAccept:
		if _, _, err := ep.HandleAccept(frame); err != nil {
			return nil, err
		}
	case flow.KindData:
		if _, _, err := ep.HandleData(frame); err != nil {
			return nil, err
		}
	case flow.KindReject:
		c.mu.Lock()
		delete(c.convoOwner, frame.ConvoTag)
		c.mu.Unlock()
	}
	return nil, nil
}

func (c *Core) handleFlowOpen(frame *flow.Frame, now time.Time) ([]Outbound, error) {
	c.mu.Lock()
	var target *flow.Endpoint
	for _, ep := range c.endpoints {
		target = ep
		break
	}
	c.mu.Unlock()
	if target == nil {
		return nil, fmt.Errorf("dispatch: no local endpoint to accept open frame")
	}

	_, reply, _, err := target.HandleOpen(frame, now)
	if err != nil {
		return nil, err
	}
	addr, err := flow.ServiceAddressFromKey(frame.SenderIdentity)
	if err == nil {
		c.mu.Lock()
		c.convoOwner[frame.ConvoTag] = addr
		c.mu.Unlock()
	}
	_ = reply
	return nil, nil
}

// handleDHT dispatches one of the five DHT operations to
// the introset store / RC store, and replies on the same path/session the
// request arrived on.
func (c *Core) handleDHT(from rc.RouterID, body []byte, now time.Time) ([]Outbound, error) {
	msg, err := DecodeDHTMessage(body)
	if err != nil {
		return nil, err
	}

	switch msg.Op {
	case OpFindRouter:
		id, err := rc.RouterIDFromBytes(msg.Bytes)
		if err != nil {
			return nil, err
		}
		contact, ok := c.rcStore.Get(id)
		if !ok {
			return nil, nil
		}
		reply, err := GotRouterMessage(msg.TxID, contact)
		if err != nil {
			return nil, err
		}
		return c.sendTo(from, &Envelope{Tag: TagDHT, Version: envelopeVersion, Body: reply.Encode()}, now)

	case OpPublishIntroSet:
		return c.withSpan(trace.OpIntrosetPublish, trace.SpanKindServer, map[string]interface{}{"from": from.String()}, func() ([]Outbound, error) {
			introset, err := flow.DecodeIntroSet(msg.Bytes)
			if err != nil {
				return nil, err
			}
			if err := c.introsets.Put(introset, now); err != nil {
				return nil, err
			}
			return nil, nil
		})

	case OpFindIntroSet:
		return c.withSpan(trace.OpIntrosetLookup, trace.SpanKindServer, map[string]interface{}{"from": from.String()}, func() ([]Outbound, error) {
			addr, err := flowServiceAddressFromBytes(msg.Bytes)
			if err != nil {
				return nil, err
			}
			introset, ok := c.introsets.Get(addr)
			if !ok || !introset.HasLiveIntro(now) {
				return nil, nil
			}
			reply, err := GotIntroSetMessage(msg.TxID, introset)
			if err != nil {
				return nil, err
			}
			return c.sendTo(from, &Envelope{Tag: TagDHT, Version: envelopeVersion, Body: reply.Encode()}, now)
		})

	case OpGotRouter:
		contact, err := rc.DecodeRC(msg.Bytes)
		if err != nil {
			return nil, err
		}
		if err := contact.Verify(c.provider, now); err != nil {
			return nil, err
		}
		if err := c.rcStore.Put(contact); err != nil {
			return nil, err
		}
		return nil, nil

	case OpGotIntroSet:
		introset, err := flow.DecodeIntroSet(msg.Bytes)
		if err != nil {
			return nil, err
		}
		if err := c.introsets.Put(introset, now); err != nil {
			return nil, err
		}
		// Matching this reply back to a specific outstanding
		// flow.PendingLookup by TxID is the caller's job: Core only keeps
		// the store itself current.
		return nil, nil

	default:
		return nil, fmt.Errorf("dispatch: unknown DHT op %s", msg.Op)
	}
}

func flowServiceAddressFromBytes(b []byte) (flow.ServiceAddress, error) {
	var addr flow.ServiceAddress
	if len(b) != len(addr) {
		return addr, fmt.Errorf("dispatch: service address must be %d bytes, got %d", len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// sendTo enqueues env on the established session to router, if one exists.
func (c *Core) sendTo(router rc.RouterID, env *Envelope, now time.Time) ([]Outbound, error) {
	s, ok := c.sessions.byRouterID(router)
	if !ok {
		return nil, unknownPeerErr(router)
	}
	if s.State != iwp.StateEstablished && s.State != iwp.StateLIMSent {
		return nil, sessionNotEstablishedErr(router)
	}
	_, frames, err := s.EnqueueMessage(env.Encode(), now)
	if err != nil {
		return nil, err
	}
	addr, ok := c.sessions.addrOf(router)
	if !ok {
		return nil, unknownPeerErr(router)
	}
	return addrFrames(addr, frames), nil
}

// SendCommit implements path.Sender: it wraps commit as an LRCM envelope
// addressed to firstHop and blocks until the matching LR_StatusMessage
// arrives or ctx is done. Core's caller (the single logic task) is expected
// to keep driving InboundPacket/Tick concurrently on another goroutine so
// the reply can actually arrive; Core itself performs no I/O.
func (c *Core) SendCommit(ctx context.Context, firstHop rc.RouterID, commit *path.CommitMessage) (*path.StatusMessage, error) {
	c.mu.Lock()
	tracer := c.tracer
	c.mu.Unlock()
	if tracer == nil {
		return c.sendCommit(ctx, firstHop, commit)
	}

	var status *path.StatusMessage
	err := trace.WithSpan(ctx, tracer, trace.OpPathBuild, trace.SpanKindClient, func(ctx context.Context, span *trace.Span) error {
		span.SetAttribute("first_hop", firstHop.String())
		span.SetAttribute("hops", len(commit.Records))
		var err error
		status, err = c.sendCommit(ctx, firstHop, commit)
		return err
	})
	return status, err
}

func (c *Core) sendCommit(ctx context.Context, firstHop rc.RouterID, commit *path.CommitMessage) (*path.StatusMessage, error) {
	ingress, err := path.NewID(c.provider)
	if err != nil {
		return nil, err
	}
	wire := &LRCMWire{IngressPath: ingress, PathLifetime: int64(commit.PathLifetime), Records: commit.Records}

	ch := make(chan *path.StatusMessage, 1)
	c.mu.Lock()
	c.pendingCommits[ingress] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pendingCommits, ingress)
		c.mu.Unlock()
	}()

	out, err := c.sendTo(firstHop, &Envelope{Tag: TagLRCM, Version: envelopeVersion, Body: wire.Encode()}, time.Now())
	if err != nil {
		return nil, err
	}
	c.OutboundQueue(out)

	select {
	case status := <-ch:
		return status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tick drives every timer-based concern in one logic-task wakeup: per-
// session keepalive/retransmit/timeout sweeps, transit-entry expiry, and
// introset expiry. Sessions that timed out are torn down, and every owned
// path whose first hop was the timed-out peer is marked failed in the same
// tick so its owner never sends into a dead link.
func (c *Core) Tick(now time.Time) []Outbound {
	timedOut, toSend := c.sessions.sweepTimeouts(now)

	var out []Outbound
	for addr, frames := range toSend {
		out = append(out, addrFrames(addr, frames)...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, peer := range timedOut {
		if addr, ok := c.sessions.addrOf(peer); ok {
			c.sessions.remove(addr)
		}
		for id, o := range c.owned {
			if len(o.Hops) > 0 && o.Hops[0].Router == peer {
				o.State = path.StateFailed
				delete(c.owned, id)
				c.log.Warn("path dead: first-hop session timed out",
					"path", id.String(), "peer", peer.String())
			}
		}
		c.log.Info("link session timed out", "peer", peer.String())
	}

	c.transit.Sweep(now)
	c.introsets.Prune(now)

	for id, o := range c.owned {
		if o.Expired(now) {
			o.State = path.StateExpired
			delete(c.owned, id)
		}
	}

	return out
}

// OutboundQueue hands frames produced outside the normal InboundPacket
// return path (currently only SendCommit's initial LRCM) to whatever
// handler SetOutboundHandler installed. It is a no-op until one is set.
func (c *Core) OutboundQueue(out []Outbound) {
	c.mu.Lock()
	fn := c.onOutbound
	c.mu.Unlock()
	if fn != nil {
		fn(out)
	}
}
