package iwp

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/security"
)

// frame is a decoded post-handshake packet: the inner plaintext header plus
// its body, after the outer HMAC/nonce/ciphertext envelope has been
// stripped.
type frame struct {
	Version byte
	Type    MsgType
	Flags   uint8
	Body    []byte
}

// encodeFrame builds the outer wire layout:
//
//	[ 32-byte HMAC ] [ 24-byte nonce ] [ ciphertext: version|type|size|rsv|flags|body ]
//
// nonce must be freshly random for every frame; sessionKey is the session's
// established symmetric key.
func encodeFrame(provider crypto.Provider, sessionKey, nonce []byte, msgType MsgType, flags uint8, body []byte) ([]byte, error) {
	if len(nonce) != crypto.NonceSize {
		return nil, fmt.Errorf("iwp: encodeFrame: nonce must be %d bytes, got %d", crypto.NonceSize, len(nonce))
	}
	size, err := security.SafeIntToUint16(len(body))
	if err != nil {
		return nil, fmt.Errorf("iwp: encodeFrame: %w", err)
	}

	plain := make([]byte, innerHeaderSize+len(body))
	plain[0] = protocolVersion
	plain[1] = byte(msgType)
	binary.BigEndian.PutUint16(plain[2:4], size)
	plain[4] = 0 // reserved
	plain[5] = flags
	copy(plain[innerHeaderSize:], body)

	if err := provider.XChaCha20(plain, sessionKey, nonce); err != nil {
		return nil, fmt.Errorf("iwp: encodeFrame: encrypt: %w", err)
	}

	macInput := make([]byte, 0, len(nonce)+len(plain))
	macInput = append(macInput, nonce...)
	macInput = append(macInput, plain...)
	mac := provider.HMAC(sessionKey, macInput)

	out := make([]byte, 0, outerHeaderSize+len(plain))
	out = append(out, mac[:]...)
	out = append(out, nonce...)
	out = append(out, plain...)
	return out, nil
}

// decodeFrame authenticates and decrypts a wire frame against sessionKey:
// recompute the HMAC over nonce||ciphertext, compare in constant time,
// then XChaCha20 the ciphertext in place.
func decodeFrame(provider crypto.Provider, sessionKey, raw []byte) (*frame, error) {
	if len(raw) < outerHeaderSize+innerHeaderSize {
		return nil, fmt.Errorf("iwp: decodeFrame: frame too short: %d bytes", len(raw))
	}
	mac := raw[:crypto.HMACSize]
	nonce := raw[crypto.HMACSize:outerHeaderSize]
	ciphertext := append([]byte(nil), raw[outerHeaderSize:]...)

	macInput := make([]byte, 0, len(nonce)+len(ciphertext))
	macInput = append(macInput, nonce...)
	macInput = append(macInput, ciphertext...)
	computed := provider.HMAC(sessionKey, macInput)
	if !security.ConstantTimeCompare(computed[:], mac) {
		return nil, authenticatorMismatchErr()
	}

	if err := provider.XChaCha20(ciphertext, sessionKey, nonce); err != nil {
		return nil, fmt.Errorf("iwp: decodeFrame: decrypt: %w", err)
	}

	size := binary.BigEndian.Uint16(ciphertext[2:4])
	if int(size) != len(ciphertext)-innerHeaderSize {
		return nil, fmt.Errorf("iwp: decodeFrame: size field %d does not match body length %d", size, len(ciphertext)-innerHeaderSize)
	}

	return &frame{
		Version: ciphertext[0],
		Type:    MsgType(ciphertext[1]),
		Flags:   ciphertext[5],
		Body:    ciphertext[innerHeaderSize:],
	}, nil
}
