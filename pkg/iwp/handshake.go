package iwp

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// The three handshake wire messages Unlike post-handshake
// frames these are not HMAC/XChaCha20-wrapped as a unit (no session key
// exists yet); instead Intro and IntroAck each carry their own authenticator
// computed under the handshake's DH-derived key, and SessionStart carries no
// authenticator: it is accepted on its echo of the IntroAck token.

// introMsg is sent initiator -> responder to begin a handshake.
type introMsg struct {
	EphemeralPub  [crypto.PubKeySize]byte
	Nonce         [32]byte
	Padding       []byte
	Authenticator [crypto.HMACSize]byte
}

func (m *introMsg) authenticatedPayload() []byte {
	buf := make([]byte, 0, len(m.EphemeralPub)+len(m.Nonce)+len(m.Padding))
	buf = append(buf, m.EphemeralPub[:]...)
	buf = append(buf, m.Nonce[:]...)
	buf = append(buf, m.Padding...)
	return buf
}

func (m *introMsg) encode() []byte {
	payload := m.authenticatedPayload()
	out := make([]byte, 0, 2+len(payload)+crypto.HMACSize)
	var padLen [2]byte
	binary.BigEndian.PutUint16(padLen[:], uint16(len(m.Padding)))
	out = append(out, padLen[:]...)
	out = append(out, payload...)
	out = append(out, m.Authenticator[:]...)
	return out
}

func decodeIntro(raw []byte) (*introMsg, error) {
	const fixed = 2 + crypto.PubKeySize + 32 + crypto.HMACSize
	if len(raw) < fixed {
		return nil, fmt.Errorf("iwp: decodeIntro: message too short: %d bytes", len(raw))
	}
	padLen := binary.BigEndian.Uint16(raw[:2])
	if len(raw) != fixed+int(padLen) {
		return nil, fmt.Errorf("iwp: decodeIntro: padding length mismatch")
	}
	m := &introMsg{}
	off := 2
	copy(m.EphemeralPub[:], raw[off:off+crypto.PubKeySize])
	off += crypto.PubKeySize
	copy(m.Nonce[:], raw[off:off+32])
	off += 32
	if padLen > 0 {
		m.Padding = append([]byte(nil), raw[off:off+int(padLen)]...)
		off += int(padLen)
	}
	copy(m.Authenticator[:], raw[off:off+crypto.HMACSize])
	return m, nil
}

// introAckMsg is the responder's reply, carrying a fresh token that
// authenticates the peer address back to the responder on SessionStart.
type introAckMsg struct {
	Token         [32]byte
	EphemeralPub  [crypto.PubKeySize]byte
	Nonce         [32]byte
	Authenticator [crypto.HMACSize]byte
}

func (m *introAckMsg) authenticatedPayload() []byte {
	buf := make([]byte, 0, len(m.Token)+len(m.EphemeralPub)+len(m.Nonce))
	buf = append(buf, m.Token[:]...)
	buf = append(buf, m.EphemeralPub[:]...)
	buf = append(buf, m.Nonce[:]...)
	return buf
}

func (m *introAckMsg) encode() []byte {
	payload := m.authenticatedPayload()
	out := make([]byte, 0, len(payload)+crypto.HMACSize)
	out = append(out, payload...)
	out = append(out, m.Authenticator[:]...)
	return out
}

func decodeIntroAck(raw []byte) (*introAckMsg, error) {
	const size = 32 + crypto.PubKeySize + 32 + crypto.HMACSize
	if len(raw) != size {
		return nil, fmt.Errorf("iwp: decodeIntroAck: wrong size: got %d want %d", len(raw), size)
	}
	m := &introAckMsg{}
	off := 0
	copy(m.Token[:], raw[off:off+32])
	off += 32
	copy(m.EphemeralPub[:], raw[off:off+crypto.PubKeySize])
	off += crypto.PubKeySize
	copy(m.Nonce[:], raw[off:off+32])
	off += 32
	copy(m.Authenticator[:], raw[off:off+crypto.HMACSize])
	return m, nil
}

// sessionStartMsg finalizes the handshake: it echoes the responder's token
// and carries a second nonce so both sides derive the same session key.
type sessionStartMsg struct {
	Token  [32]byte
	Nonce2 [32]byte
}

func (m *sessionStartMsg) encode() []byte {
	out := make([]byte, 0, 64)
	out = append(out, m.Token[:]...)
	out = append(out, m.Nonce2[:]...)
	return out
}

func decodeSessionStart(raw []byte) (*sessionStartMsg, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("iwp: decodeSessionStart: wrong size: got %d want 64", len(raw))
	}
	m := &sessionStartMsg{}
	copy(m.Token[:], raw[:32])
	copy(m.Nonce2[:], raw[32:64])
	return m, nil
}

// deriveSessionKey computes short_hash(dh || token || nonce2), the final
// session key both sides compute independently after SessionStart.
func deriveSessionKey(provider crypto.Provider, dh []byte, token [32]byte, nonce2 [32]byte) []byte {
	buf := make([]byte, 0, len(dh)+32+32)
	buf = append(buf, dh...)
	buf = append(buf, token[:]...)
	buf = append(buf, nonce2[:]...)
	h := provider.ShortHash(buf)
	return h[:]
}

func randomToken(provider crypto.Provider) ([32]byte, error) {
	var tok [32]byte
	if err := provider.RandBytes(tok[:]); err != nil {
		return tok, fmt.Errorf("iwp: randomToken: %w", err)
	}
	return tok, nil
}
