package flow

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Encode renders an IntroSet as the length-prefixed binary record carried
// inside PublishIntroSet and GotIntroSet DHT messages. Field
// order matches signedPayload's.
func (is *IntroSet) Encode() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, is.ServiceAddr[:]...)
	buf = appendField(buf, is.ServiceEncPubKey)

	var introCount [2]byte
	binary.BigEndian.PutUint16(introCount[:], uint16(len(is.Intros)))
	buf = append(buf, introCount[:]...)
	for _, intro := range is.Intros {
		buf = append(buf, intro.Router[:]...)
		buf = append(buf, intro.Path[:]...)
		expiry, err := intro.ExpiresAt.UTC().MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("flow: encode introset: intro expiry: %w", err)
		}
		buf = appendField(buf, expiry)
	}

	buf = append(buf, is.Tag[:]...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], is.Seq)
	buf = append(buf, seq[:]...)
	buf = appendField(buf, is.Signature)
	return buf, nil
}

// DecodeIntroSet reverses Encode. It does not verify the signature; callers
// should call Verify before trusting the result.
func DecodeIntroSet(b []byte) (*IntroSet, error) {
	if len(b) < crypto.PubKeySize {
		return nil, fmt.Errorf("flow: decode introset: truncated service address")
	}
	is := &IntroSet{}
	copy(is.ServiceAddr[:], b[:crypto.PubKeySize])
	rest := b[crypto.PubKeySize:]

	var err error
	is.ServiceEncPubKey, rest, err = readField(rest)
	if err != nil {
		return nil, fmt.Errorf("flow: decode introset: enc pub key: %w", err)
	}

	if len(rest) < 2 {
		return nil, fmt.Errorf("flow: decode introset: truncated intro count")
	}
	count := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	is.Intros = make([]Introduction, 0, count)
	for i := uint16(0); i < count; i++ {
		const fixed = 32 + 16
		if len(rest) < fixed {
			return nil, fmt.Errorf("flow: decode introset: intro %d: truncated", i)
		}
		var intro Introduction
		copy(intro.Router[:], rest[:32])
		copy(intro.Path[:], rest[32:fixed])
		rest = rest[fixed:]

		var expiryRaw []byte
		expiryRaw, rest, err = readField(rest)
		if err != nil {
			return nil, fmt.Errorf("flow: decode introset: intro %d: expiry: %w", i, err)
		}
		var expiry time.Time
		if err := expiry.UnmarshalBinary(expiryRaw); err != nil {
			return nil, fmt.Errorf("flow: decode introset: intro %d: expiry: %w", i, err)
		}
		intro.ExpiresAt = expiry
		is.Intros = append(is.Intros, intro)
	}

	if len(rest) < 8 {
		return nil, fmt.Errorf("flow: decode introset: truncated tag")
	}
	copy(is.Tag[:], rest[:8])
	rest = rest[8:]

	if len(rest) < 8 {
		return nil, fmt.Errorf("flow: decode introset: truncated seq")
	}
	is.Seq = binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]

	is.Signature, rest, err = readField(rest)
	if err != nil {
		return nil, fmt.Errorf("flow: decode introset: signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("flow: decode introset: %d trailing bytes", len(rest))
	}
	return is, nil
}

func appendField(buf, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

func readField(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated field: want %d bytes, have %d", n, len(b))
	}
	return append([]byte(nil), b[:n]...), b[n:], nil
}
