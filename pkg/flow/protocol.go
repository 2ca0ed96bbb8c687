package flow

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Kind distinguishes the four shapes a ProtocolFrameMessage can take:
// the open handshake, its reply, a rejection, and ordinary data carried
// once the flow is established.
type Kind uint8

const (
	// KindOpen is the first frame a client sends to establish a flow: it
	// carries the client's signed sender-identity envelope and a fresh
	// ephemeral DH share.
	KindOpen Kind = iota
	// KindAccept is the service's reply once it has installed a
	// FlowSession for the offered ConvoTag.
	KindAccept
	// KindReject is returned instead of KindAccept when the endpoint's
	// auth policy rejects the open frame.
	KindReject
	// KindData carries ordinary application payload over an established
	// flow.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "Open"
	case KindAccept:
		return "Accept"
	case KindReject:
		return "Reject"
	case KindData:
		return "Data"
	default:
		return "Unknown"
	}
}

const headerSize = 1 + 16 + 8 // Kind | ConvoTag | Seq

// Frame is the decoded wire form of a ProtocolFrameMessage, the payload a
// path terminus hands to the flow layer. Only the fields relevant to Kind
// are populated on decode.
type Frame struct {
	Kind     Kind
	ConvoTag ConvoTag
	Seq      uint64

	// Open only.
	SenderIdentity ed25519.PublicKey
	EphPub         [crypto.PubKeySize]byte
	HandshakeNonce [32]byte
	Signature      [crypto.SigSize]byte
	AuthToken      []byte

	// Open, Accept, Data.
	PayloadNonce [crypto.NonceSize]byte
	Ciphertext   []byte

	// Reject only.
	Reason string
}

// openSignedPayload is what the client signs with its service identity to
// bind the ephemeral handshake share to ConvoTag: the sender identity
// envelope, signed by the opening endpoint's service identity.
func openSignedPayload(tag ConvoTag, ephPub [crypto.PubKeySize]byte, nonce [32]byte) []byte {
	buf := make([]byte, 0, 16+32+32)
	buf = append(buf, tag[:]...)
	buf = append(buf, ephPub[:]...)
	buf = append(buf, nonce[:]...)
	return buf
}

// Encode serializes f to its wire form.
func (f *Frame) Encode() ([]byte, error) {
	buf := make([]byte, headerSize)
	buf[0] = byte(f.Kind)
	copy(buf[1:17], f.ConvoTag[:])
	binary.BigEndian.PutUint64(buf[17:25], f.Seq)

	switch f.Kind {
	case KindOpen:
		if len(f.SenderIdentity) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("flow: encode open: sender identity must be %d bytes", ed25519.PublicKeySize)
		}
		buf = append(buf, f.SenderIdentity...)
		buf = append(buf, f.EphPub[:]...)
		buf = append(buf, f.HandshakeNonce[:]...)
		buf = append(buf, f.Signature[:]...)
		buf = appendLenPrefixed(buf, f.AuthToken)
		buf = appendPayload(buf, f.PayloadNonce, f.Ciphertext)
	case KindAccept, KindData:
		buf = appendPayload(buf, f.PayloadNonce, f.Ciphertext)
	case KindReject:
		buf = appendLenPrefixed(buf, []byte(f.Reason))
	default:
		return nil, fmt.Errorf("flow: encode: unknown kind %d", f.Kind)
	}
	return buf, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(data)))
	buf = append(buf, n[:]...)
	return append(buf, data...)
}

func appendPayload(buf []byte, nonce [crypto.NonceSize]byte, ciphertext []byte) []byte {
	buf = append(buf, nonce[:]...)
	return appendLenPrefixed(buf, ciphertext)
}

// DecodeFrame parses a wire ProtocolFrameMessage.
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("flow: decode frame: too short: %d bytes", len(raw))
	}
	f := &Frame{Kind: Kind(raw[0])}
	copy(f.ConvoTag[:], raw[1:17])
	f.Seq = binary.BigEndian.Uint64(raw[17:25])
	rest := raw[headerSize:]

	switch f.Kind {
	case KindOpen:
		const fixed = ed25519.PublicKeySize + crypto.PubKeySize + 32 + crypto.SigSize
		if len(rest) < fixed {
			return nil, fmt.Errorf("flow: decode open: truncated")
		}
		f.SenderIdentity = append(ed25519.PublicKey(nil), rest[:ed25519.PublicKeySize]...)
		rest = rest[ed25519.PublicKeySize:]
		copy(f.EphPub[:], rest[:crypto.PubKeySize])
		rest = rest[crypto.PubKeySize:]
		copy(f.HandshakeNonce[:], rest[:32])
		rest = rest[32:]
		copy(f.Signature[:], rest[:crypto.SigSize])
		rest = rest[crypto.SigSize:]

		token, rest2, err := readLenPrefixed(rest)
		if err != nil {
			return nil, fmt.Errorf("flow: decode open: auth token: %w", err)
		}
		f.AuthToken = token
		if err := readPayload(f, rest2); err != nil {
			return nil, fmt.Errorf("flow: decode open: %w", err)
		}
	case KindAccept, KindData:
		if err := readPayload(f, rest); err != nil {
			return nil, fmt.Errorf("flow: decode %s: %w", f.Kind, err)
		}
	case KindReject:
		reason, _, err := readLenPrefixed(rest)
		if err != nil {
			return nil, fmt.Errorf("flow: decode reject: %w", err)
		}
		f.Reason = string(reason)
	default:
		return nil, fmt.Errorf("flow: decode: unknown kind %d", f.Kind)
	}
	return f, nil
}

func readLenPrefixed(b []byte) (data, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	if len(b) < int(n) {
		return nil, nil, fmt.Errorf("truncated payload: want %d, have %d", n, len(b))
	}
	return append([]byte(nil), b[:n]...), b[n:], nil
}

func readPayload(f *Frame, b []byte) error {
	if len(b) < crypto.NonceSize {
		return fmt.Errorf("truncated payload nonce")
	}
	copy(f.PayloadNonce[:], b[:crypto.NonceSize])
	ct, _, err := readLenPrefixed(b[crypto.NonceSize:])
	if err != nil {
		return err
	}
	f.Ciphertext = ct
	return nil
}

// sealPayload encrypts plaintext under key with a freshly drawn nonce,
// mirroring pkg/iwp/frame.go and pkg/path's identical wrap-with-fresh-
// nonce convention.
func sealPayload(provider crypto.Provider, key, plaintext []byte) (nonce [crypto.NonceSize]byte, ciphertext []byte, err error) {
	if err = provider.RandBytes(nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("flow: seal payload: %w", err)
	}
	ciphertext = append([]byte(nil), plaintext...)
	if err = provider.XChaCha20(ciphertext, key, nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("flow: seal payload: %w", err)
	}
	return nonce, ciphertext, nil
}

func openPayload(provider crypto.Provider, key []byte, nonce [crypto.NonceSize]byte, ciphertext []byte) ([]byte, error) {
	plain := append([]byte(nil), ciphertext...)
	if err := provider.XChaCha20(plain, key, nonce[:]); err != nil {
		return nil, fmt.Errorf("flow: open payload: %w", err)
	}
	return plain, nil
}
