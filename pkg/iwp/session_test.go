package iwp

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

func mustRC(t *testing.T, provider crypto.Provider) (*rc.RC, ed25519.PrivateKey, []byte) {
	t.Helper()
	signPub, signSec, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	_, encSec, err := genEphemeral(provider)
	if err != nil {
		t.Fatalf("generate encryption key: %v", err)
	}
	encPub, err := x25519Basepoint(encSec[:])
	if err != nil {
		t.Fatalf("derive encryption pub: %v", err)
	}
	kemPub, _, err := provider.PQKeyGen()
	if err != nil {
		t.Fatalf("pq keygen: %v", err)
	}
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal kem pub: %v", err)
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
	return contact, signSec, encSec[:]
}

func handshakeSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	provider := crypto.New()
	now := time.Now()

	aRC, _, aEncSec := mustRC(t, provider)
	bRC, _, bEncSec := mustRC(t, provider)

	initiator := NewInitiator(provider, aRC, aEncSec)
	responder := NewResponder(provider, bRC, bEncSec)

	introWire, err := initiator.BeginHandshake(bRC.EncryptionPubKey, now)
	if err != nil {
		t.Fatalf("BeginHandshake: %v", err)
	}
	ackWire, err := responder.HandleIntro(introWire, now)
	if err != nil {
		t.Fatalf("HandleIntro: %v", err)
	}
	startWire, err := initiator.HandleIntroAck(ackWire, now)
	if err != nil {
		t.Fatalf("HandleIntroAck: %v", err)
	}
	if err := responder.HandleSessionStart(startWire, now); err != nil {
		t.Fatalf("HandleSessionStart: %v", err)
	}

	if len(initiator.SessionKey) == 0 || len(responder.SessionKey) == 0 {
		t.Fatalf("session key not derived on both sides")
	}
	if string(initiator.SessionKey) != string(responder.SessionKey) {
		t.Fatalf("session keys diverge: initiator=%x responder=%x", initiator.SessionKey, responder.SessionKey)
	}
	return initiator, responder
}

func TestHandshakeDerivesMatchingSessionKey(t *testing.T) {
	handshakeSessions(t)
}

func TestHandshakeAuthenticatorMismatchRejected(t *testing.T) {
	provider := crypto.New()
	now := time.Now()
	aRC, _, aEncSec := mustRC(t, provider)
	bRC, _, bEncSec := mustRC(t, provider)

	initiator := NewInitiator(provider, aRC, aEncSec)
	responder := NewResponder(provider, bRC, bEncSec)

	introWire, err := initiator.BeginHandshake(bRC.EncryptionPubKey, now)
	if err != nil {
		t.Fatalf("BeginHandshake: %v", err)
	}
	introWire[len(introWire)-1] ^= 0xFF // corrupt the authenticator

	if _, err := responder.HandleIntro(introWire, now); err == nil {
		t.Fatalf("expected handshake failure on corrupted authenticator")
	}
}

func TestAliveRoundTrip(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	if err := initiator.pushFrame(MsgALIV, nil, now); err != nil {
		t.Fatalf("pushFrame ALIV: %v", err)
	}
	frames := initiator.DrainOutbound()
	if len(frames) != 1 {
		t.Fatalf("expected 1 queued ALIV frame, got %d", len(frames))
	}

	delivered, toSend, err := responder.HandleFrame(frames[0], now)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if len(delivered) != 0 || len(toSend) != 0 {
		t.Fatalf("ALIV should not deliver or reply, got delivered=%d toSend=%d", len(delivered), len(toSend))
	}
}

func TestSingleFragmentMessageDeliveredInOrder(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	// msgid 0 is the LIM and is always delivered first.
	limFrames, err := initiator.SendLIM([]byte("lim-content"), now)
	if err != nil {
		t.Fatalf("SendLIM: %v", err)
	}
	if _, _, err := responder.HandleFrame(limFrames[0], now); err != nil {
		t.Fatalf("HandleFrame lim: %v", err)
	}

	id, frames, err := initiator.EnqueueMessage([]byte("hello overlay"), now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first assigned msgid to be 1 (0 reserved for LIM), got %d", id)
	}
	if len(frames) != 1 {
		t.Fatalf("single-fragment message should produce exactly one XMIT frame, got %d", len(frames))
	}

	delivered, toSend, err := responder.HandleFrame(frames[0], now)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if len(delivered) != 1 || string(delivered[0]) != "hello overlay" {
		t.Fatalf("unexpected delivered messages: %q", delivered)
	}
	if len(toSend) != 1 {
		t.Fatalf("expected exactly one ACKS reply, got %d", len(toSend))
	}
}

func TestFragmentedDeliveryWithLossAndRetransmit(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	// msgid 0 is the LIM and is always delivered first.
	limFrames, err := initiator.SendLIM([]byte("lim-content"), now)
	if err != nil {
		t.Fatalf("SendLIM: %v", err)
	}
	if _, _, err := responder.HandleFrame(limFrames[0], now); err != nil {
		t.Fatalf("HandleFrame lim: %v", err)
	}

	body := make([]byte, 4*MaxFragmentSize+100)
	for i := range body {
		body[i] = byte(i)
	}

	_, frames, err := initiator.EnqueueMessage(body, now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	// One XMIT carrying the last fragment inline, plus one FRAG per full
	// fragment.
	if len(frames) != 5 {
		t.Fatalf("expected XMIT + 4 FRAG frames queued, got %d", len(frames))
	}
	xmitFrame := frames[0]
	fragFrames := frames[1:]

	tm := initiator.outbound[1]
	if tm.NumFrags != 4 {
		t.Fatalf("expected 4 full fragments, got %d", tm.NumFrags)
	}

	// Deliver XMIT (carries the last fragment) then fragments 0 and 2 only;
	// fragments 1 and 3 are "lost".
	if _, _, err := responder.HandleFrame(xmitFrame, now); err != nil {
		t.Fatalf("HandleFrame xmit: %v", err)
	}
	if _, _, err := responder.HandleFrame(fragFrames[0], now); err != nil {
		t.Fatalf("HandleFrame frag0: %v", err)
	}
	if _, _, err := responder.HandleFrame(fragFrames[2], now); err != nil {
		t.Fatalf("HandleFrame frag2: %v", err)
	}

	inbound := responder.inbound[1]
	if inbound == nil {
		t.Fatalf("expected an in-progress reassembly for msgid 1")
	}
	if inbound.complete() {
		t.Fatalf("message should not be complete with fragments 1 and 3 missing")
	}

	// Now deliver the missing fragments.
	if _, _, err := responder.HandleFrame(fragFrames[1], now); err != nil {
		t.Fatalf("HandleFrame frag1: %v", err)
	}
	delivered, _, err := responder.HandleFrame(fragFrames[3], now)
	if err != nil {
		t.Fatalf("HandleFrame frag3: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected the message delivered exactly once, got %d deliveries", len(delivered))
	}
	if string(delivered[0]) != string(body) {
		t.Fatalf("reassembled message does not match original")
	}
}

func TestACKSIdempotence(t *testing.T) {
	initiator, _ := handshakeSessions(t)
	now := time.Now()

	_, _, err := initiator.EnqueueMessage(make([]byte, 3*MaxFragmentSize), now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	tm := initiator.outbound[1]

	mask := uint32(0b0101)
	tm.applyAck(mask)
	first := tm.Bitmask
	tm.applyAck(mask)
	if tm.Bitmask != first {
		t.Fatalf("applying the same ACKS bitmask twice changed state: %b vs %b", tm.Bitmask, first)
	}
}

func TestOutOfOrderMessagesHeldUntilGapCloses(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	limFrames, err := initiator.SendLIM([]byte("lim-content"), now)
	if err != nil {
		t.Fatalf("SendLIM: %v", err)
	}
	_, secondFrames, err := initiator.EnqueueMessage([]byte("second"), now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	// Deliver msgid 1 before msgid 0: it must be held back.
	delivered, _, err := responder.HandleFrame(secondFrames[0], now)
	if err != nil {
		t.Fatalf("HandleFrame out-of-order: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("out-of-order message must not be delivered before the gap closes, got %v", delivered)
	}

	delivered, _, err = responder.HandleFrame(limFrames[0], now)
	if err != nil {
		t.Fatalf("HandleFrame lim: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected both messages released once msgid 0 arrives, got %d", len(delivered))
	}
	if string(delivered[0]) != "lim-content" || string(delivered[1]) != "second" {
		t.Fatalf("messages released out of msgid order: %q", delivered)
	}
}

func TestHoleyACKSTriggersImmediateRetransmit(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	body := make([]byte, 4*MaxFragmentSize+100)
	for i := range body {
		body[i] = byte(i)
	}
	_, frames, err := initiator.EnqueueMessage(body, now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	// Deliver the XMIT and fragments 0 and 2 only; 1 and 3 are lost.
	var acks [][]byte
	for _, i := range []int{0, 1, 3} {
		_, toSend, err := responder.HandleFrame(frames[i], now)
		if err != nil {
			t.Fatalf("HandleFrame %d: %v", i, err)
		}
		acks = toSend
	}
	if len(acks) == 0 {
		t.Fatalf("receiver should have emitted an ACKS")
	}

	// Feeding the holey ACKS back must retransmit the missing fragments
	// without waiting for the retransmit timer.
	_, toSend, err := initiator.HandleFrame(acks[len(acks)-1], now)
	if err != nil {
		t.Fatalf("HandleFrame acks: %v", err)
	}
	if len(toSend) != 2 {
		t.Fatalf("expected 2 retransmitted FRAG frames, got %d", len(toSend))
	}
	for _, f := range toSend {
		delivered, _, err := responder.HandleFrame(f, now)
		if err != nil {
			t.Fatalf("HandleFrame retransmit: %v", err)
		}
		if len(delivered) == 1 && string(delivered[0]) != string(body) {
			t.Fatalf("reassembled message does not match original")
		}
	}
}

func TestFrameAuthenticatorMismatchDropped(t *testing.T) {
	initiator, responder := handshakeSessions(t)
	now := time.Now()

	_, frames, err := initiator.EnqueueMessage([]byte("x"), now)
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	tampered := append([]byte(nil), frames[0]...)
	tampered[40] ^= 0xFF // corrupt a nonce byte; the HMAC covers nonce||ciphertext so it no longer matches

	before := responder.lastReceived
	if _, _, err := responder.HandleFrame(tampered, now); err == nil {
		t.Fatalf("expected authenticator mismatch error")
	}
	if !responder.lastReceived.Equal(before) {
		t.Fatalf("last-activity must not update on authenticator failure")
	}
}

func TestSessionTimeout(t *testing.T) {
	_, responder := handshakeSessions(t)
	now := time.Now()
	responder.State = StateEstablished
	responder.lastReceived = now

	_, timedOut := responder.Tick(now.Add(DefaultSessionTimeout - time.Second))
	if timedOut {
		t.Fatalf("session should not time out before SessionTimeout elapses")
	}

	_, timedOut = responder.Tick(now.Add(DefaultSessionTimeout + time.Second))
	if !timedOut {
		t.Fatalf("session should time out after SessionTimeout of silence")
	}
	if responder.State != StateTimeout {
		t.Fatalf("expected state Timeout, got %s", responder.State)
	}
}
