package rc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Encode renders an RC as a length-prefixed binary record, used to carry a
// router's own contact in its LIM and to answer GotRouter DHT replies.
// Field order matches signedPayload's so a peer
// can re-verify the signature immediately after decoding.
func (rc *RC) Encode() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = appendBytes(buf, rc.SigningPubKey)
	buf = appendBytes(buf, rc.EncryptionPubKey)
	buf = appendBytes(buf, rc.KEMPublicKey)

	var addrCount [2]byte
	binary.BigEndian.PutUint16(addrCount[:], uint16(len(rc.Addresses)))
	buf = append(buf, addrCount[:]...)
	for _, addr := range rc.Addresses {
		buf = appendBytes(buf, []byte(addr))
	}

	var version [2]byte
	binary.BigEndian.PutUint16(version[:], rc.Version)
	buf = append(buf, version[:]...)

	expiry, err := rc.ExpiresAt.UTC().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("rc: encode: expiry: %w", err)
	}
	buf = appendBytes(buf, expiry)
	buf = appendBytes(buf, rc.Signature)
	return buf, nil
}

// DecodeRC reverses Encode. It does not verify the signature; callers
// should call Verify on the result before trusting it.
func DecodeRC(b []byte) (*RC, error) {
	r := &RC{}
	rest := b

	var err error
	r.SigningPubKey, rest, err = readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("rc: decode: signing key: %w", err)
	}
	r.EncryptionPubKey, rest, err = readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("rc: decode: encryption key: %w", err)
	}
	r.KEMPublicKey, rest, err = readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("rc: decode: kem key: %w", err)
	}

	if len(rest) < 2 {
		return nil, fmt.Errorf("rc: decode: truncated address count")
	}
	count := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	r.Addresses = make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		var raw []byte
		raw, rest, err = readBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("rc: decode: address %d: %w", i, err)
		}
		r.Addresses = append(r.Addresses, string(raw))
	}

	if len(rest) < 2 {
		return nil, fmt.Errorf("rc: decode: truncated version")
	}
	r.Version = binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]

	var expiryRaw []byte
	expiryRaw, rest, err = readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("rc: decode: expiry: %w", err)
	}
	var expiry time.Time
	if err := expiry.UnmarshalBinary(expiryRaw); err != nil {
		return nil, fmt.Errorf("rc: decode: expiry: %w", err)
	}
	r.ExpiresAt = expiry

	r.Signature, rest, err = readBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("rc: decode: signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("rc: decode: %d trailing bytes", len(rest))
	}
	return r, nil
}

func appendBytes(buf, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

func readBytes(b []byte) (field, rest []byte, err error) {
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
