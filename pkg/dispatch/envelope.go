// Package dispatch implements the dispatch core: the link-session table
// keyed by RouterID, the transit path table, the owned paths keyed by
// outermost PathID, the service endpoints keyed by ServiceAddress, and
// the demux logic that routes a reassembled link message to the table
// that owns it.
package dispatch

import (
	"encoding/binary"
	"fmt"
)

// Tag is the outer routing-message envelope's msg-tag. Envelope uses the
// same length-prefixed binary codec already established by
// pkg/iwp/frame.go, pkg/path/lrcm.go and pkg/flow/protocol.go, carrying
// the message tag, version and body.
type Tag string

const (
	TagLIM  Tag = "LIM"
	TagLRCM Tag = "LRCM"
	TagLRSM Tag = "LRSM"
	TagDHT  Tag = "DHT"
	TagDATA Tag = "DATA"
	TagCLOS Tag = "CLOS"
	TagPATH Tag = "PATH"
)

// envelopeVersion is the only version this dispatch core emits or accepts.
const envelopeVersion = 1

// Envelope is the outer routing-message dict: { A: msg-tag,
// V: version, Body: tag-specific payload }. It travels as msgid-ordered
// payload inside an established iwp.Session for every message after the
// LIM; the LIM itself (msgid 0) is the bare encoded RC, not an Envelope.
type Envelope struct {
	Tag     Tag
	Version uint8
	Body    []byte
}

// Encode renders an Envelope as { A, V, Body } length-prefixed fields.
func (e *Envelope) Encode() []byte {
	buf := make([]byte, 0, 8+len(e.Body))
	buf = appendField(buf, []byte(e.Tag))
	buf = append(buf, e.Version)
	buf = appendField(buf, e.Body)
	return buf
}

// DecodeEnvelope reverses Encode.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	tagBytes, rest, err := readField(raw)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode envelope: tag: %w", err)
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("dispatch: decode envelope: truncated version")
	}
	version := rest[0]
	rest = rest[1:]
	body, rest, err := readField(rest)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode envelope: body: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("dispatch: decode envelope: %d trailing bytes", len(rest))
	}
	return &Envelope{Tag: Tag(tagBytes), Version: version, Body: body}, nil
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
