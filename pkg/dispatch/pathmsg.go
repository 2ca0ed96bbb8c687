package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/path"
)

// PathMessage is the TagPATH body: "{ P: path_id_next, N:
// nonce_next, C: ciphertext }". At the terminus C is a flow-layer
// ProtocolFrameMessage; at a transit hop it is the next layer down.
type PathMessage struct {
	PathID     path.ID
	Nonce      []byte
	Ciphertext []byte
}

// Encode renders a PathMessage as { P, N, C }.
func (m *PathMessage) Encode() []byte {
	buf := make([]byte, 0, 16+8+len(m.Nonce)+len(m.Ciphertext))
	buf = append(buf, m.PathID[:]...)
	buf = appendField(buf, m.Nonce)
	buf = appendField(buf, m.Ciphertext)
	return buf
}

// DecodePathMessage reverses Encode.
func DecodePathMessage(raw []byte) (*PathMessage, error) {
	if len(raw) < len(path.ID{}) {
		return nil, fmt.Errorf("dispatch: decode path message: truncated path id")
	}
	m := &PathMessage{}
	copy(m.PathID[:], raw[:len(path.ID{})])
	rest := raw[len(path.ID{}):]

	var err error
	m.Nonce, rest, err = readField(rest)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode path message: nonce: %w", err)
	}
	m.Ciphertext, rest, err = readField(rest)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode path message: ciphertext: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("dispatch: decode path message: %d trailing bytes", len(rest))
	}
	return m, nil
}

// LRCMWire is the TagLRCM body: a path.CommitMessage's lifetime plus its
// ordered sealed records, addressed to the first hop and carrying the
// outer PathID the sender wants that hop to treat as its ingress. This
// PathID is never inside a sealed record, since each hop only learns the
// *next* hop's path id that way; the first hop's own ingress id is purely
// a transport concept, set here rather than inside path.CommitMessage.
type LRCMWire struct {
	IngressPath  path.ID
	PathLifetime int64 // nanoseconds, matches time.Duration's wire form elsewhere
	Records      [][]byte
}

func (m *LRCMWire) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, m.IngressPath[:]...)
	var lifetime [8]byte
	binary.BigEndian.PutUint64(lifetime[:], uint64(m.PathLifetime))
	buf = append(buf, lifetime[:]...)

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(m.Records)))
	buf = append(buf, count[:]...)
	for _, rec := range m.Records {
		buf = appendField(buf, rec)
	}
	return buf
}

func DecodeLRCMWire(raw []byte) (*LRCMWire, error) {
	if len(raw) < len(path.ID{})+8+2 {
		return nil, fmt.Errorf("dispatch: decode lrcm: truncated header")
	}
	m := &LRCMWire{}
	copy(m.IngressPath[:], raw[:len(path.ID{})])
	rest := raw[len(path.ID{}):]
	m.PathLifetime = int64(binary.BigEndian.Uint64(rest[:8]))
	rest = rest[8:]
	count := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]

	m.Records = make([][]byte, 0, count)
	for i := uint16(0); i < count; i++ {
		var rec []byte
		var err error
		rec, rest, err = readField(rest)
		if err != nil {
			return nil, fmt.Errorf("dispatch: decode lrcm: record %d: %w", i, err)
		}
		m.Records = append(m.Records, rec)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("dispatch: decode lrcm: %d trailing bytes", len(rest))
	}
	return m, nil
}

// LRSMWire is the TagLRSM body: the terminal hop's status and its
// signature, relayed back through the path to the builder. Each transit
// hop rewrites PathID to its own ingress id while carrying the signature
// verbatim; the builder verifies it against the terminal hop's identity.
type LRSMWire struct {
	PathID    path.ID
	Status    path.StatusCode
	Signature [crypto.SigSize]byte
}

const lrsmWireSize = len(path.ID{}) + 1 + crypto.SigSize

func (m *LRSMWire) Encode() []byte {
	buf := make([]byte, 0, lrsmWireSize)
	buf = append(buf, m.PathID[:]...)
	buf = append(buf, byte(m.Status))
	buf = append(buf, m.Signature[:]...)
	return buf
}

func DecodeLRSMWire(raw []byte) (*LRSMWire, error) {
	if len(raw) != lrsmWireSize {
		return nil, fmt.Errorf("dispatch: decode lrsm: expected %d bytes, got %d", lrsmWireSize, len(raw))
	}
	m := &LRSMWire{Status: path.StatusCode(raw[len(path.ID{})])}
	copy(m.PathID[:], raw[:len(path.ID{})])
	copy(m.Signature[:], raw[len(path.ID{})+1:])
	return m, nil
}
