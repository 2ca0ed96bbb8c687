package iwp

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// transitMessage is the link-layer reliable-delivery unit: a content
// hash, a fragment size, a count
// of full fragments plus one possibly-short last fragment, and a 32-bit
// acknowledgement bitmask. Fragment index numfrags is the last (short)
// fragment; bits [0, numfrags] of Bitmask are the only ones ever set.
type transitMessage struct {
	MsgID        uint64
	ContentHash  [crypto.ShortHashSize]byte
	FragSize     uint16
	LastFragSize uint16
	NumFrags     uint8 // count of full-size fragments; total fragments = NumFrags+1
	Flags        uint8
	Bitmask      uint32

	fragments [][]byte // index 0..NumFrags, nil until present

	Started      time.Time
	LastActivity time.Time
	LastAckSent  time.Time
	AckedOnce    bool
}

// fragmentMessage splits body (at most MaxMessageSize bytes) into the
// standard-size leading fragments plus one possibly-short last fragment,
// fragSize defaults to MaxFragmentSize when 0.
func fragmentMessage(provider crypto.Provider, msgID uint64, body []byte, fragSize uint16) (*transitMessage, error) {
	if fragSize == 0 {
		fragSize = MaxFragmentSize
	}
	if len(body) > MaxMessageSize {
		return nil, fmt.Errorf("iwp: fragmentMessage: message of %d bytes exceeds max %d", len(body), MaxMessageSize)
	}

	var numFull int
	var lastSize int
	if len(body) <= int(fragSize) {
		numFull = 0
		lastSize = len(body)
	} else {
		numFull = len(body) / int(fragSize)
		lastSize = len(body) % int(fragSize)
		if lastSize == 0 {
			numFull--
			lastSize = int(fragSize)
		}
	}
	if numFull+1 > MaxFragments {
		return nil, fmt.Errorf("iwp: fragmentMessage: message requires %d fragments, exceeds max %d", numFull+1, MaxFragments)
	}

	hash := provider.ShortHash(body)
	tm := &transitMessage{
		MsgID:        msgID,
		ContentHash:  hash,
		FragSize:     fragSize,
		LastFragSize: uint16(lastSize),
		NumFrags:     uint8(numFull),
		fragments:    make([][]byte, numFull+1),
	}
	for i := 0; i < numFull; i++ {
		tm.fragments[i] = body[i*int(fragSize) : (i+1)*int(fragSize)]
	}
	tm.fragments[numFull] = body[numFull*int(fragSize):]
	return tm, nil
}

// lastFragmentIndex is the bit position of the final (possibly short)
// fragment.
func (tm *transitMessage) lastFragmentIndex() uint8 { return tm.NumFrags }

// xmitBody encodes the XMIT inner message body: content hash, msgid,
// fragment sizes, full-fragment count, flags, then the last fragment bytes
// inline.
func (tm *transitMessage) xmitBody() []byte {
	last := tm.fragments[tm.lastFragmentIndex()]
	out := make([]byte, 0, 32+8+2+2+1+1+len(last))
	out = append(out, tm.ContentHash[:]...)
	var msgid [8]byte
	binary.BigEndian.PutUint64(msgid[:], tm.MsgID)
	out = append(out, msgid[:]...)
	var fragSize, lastSize [2]byte
	binary.BigEndian.PutUint16(fragSize[:], tm.FragSize)
	binary.BigEndian.PutUint16(lastSize[:], tm.LastFragSize)
	out = append(out, fragSize[:]...)
	out = append(out, lastSize[:]...)
	out = append(out, tm.NumFrags)
	out = append(out, tm.Flags)
	out = append(out, last...)
	return out
}

// decodeXmitBody parses an XMIT body into a partially-populated
// transitMessage: every field except the non-last fragments, which arrive
// as subsequent FRAG messages.
func decodeXmitBody(body []byte) (*transitMessage, error) {
	const fixed = 32 + 8 + 2 + 2 + 1 + 1
	if len(body) < fixed {
		return nil, fmt.Errorf("iwp: decodeXmitBody: body too short: %d bytes", len(body))
	}
	tm := &transitMessage{}
	off := 0
	copy(tm.ContentHash[:], body[off:off+32])
	off += 32
	tm.MsgID = binary.BigEndian.Uint64(body[off : off+8])
	off += 8
	tm.FragSize = binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	tm.LastFragSize = binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	tm.NumFrags = body[off]
	off++
	tm.Flags = body[off]
	off++
	last := body[off:]
	if len(last) != int(tm.LastFragSize) {
		return nil, fmt.Errorf("iwp: decodeXmitBody: last fragment length mismatch: got %d want %d", len(last), tm.LastFragSize)
	}
	if int(tm.NumFrags)+1 > MaxFragments {
		return nil, fmt.Errorf("iwp: decodeXmitBody: fragment count %d exceeds max %d", tm.NumFrags+1, MaxFragments)
	}

	tm.fragments = make([][]byte, int(tm.NumFrags)+1)
	tm.fragments[tm.NumFrags] = append([]byte(nil), last...)
	tm.Bitmask |= 1 << tm.NumFrags
	return tm, nil
}

// fragBody encodes one FRAG continuation fragment: msgid, fragment index,
// then the fragment's bytes.
func fragBody(msgID uint64, index uint8, data []byte) []byte {
	out := make([]byte, 0, 8+1+len(data))
	var msgid [8]byte
	binary.BigEndian.PutUint64(msgid[:], msgID)
	out = append(out, msgid[:]...)
	out = append(out, index)
	out = append(out, data...)
	return out
}

func decodeFragBody(body []byte) (msgID uint64, index uint8, data []byte, err error) {
	if len(body) < 9 {
		return 0, 0, nil, fmt.Errorf("iwp: decodeFragBody: body too short: %d bytes", len(body))
	}
	msgID = binary.BigEndian.Uint64(body[0:8])
	index = body[8]
	data = body[9:]
	return msgID, index, data, nil
}

// acksBody encodes the ACKS inner message body: msgid plus the current
// acknowledgement bitmask.
func acksBody(msgID uint64, bitmask uint32) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint64(out[0:8], msgID)
	binary.BigEndian.PutUint32(out[8:12], bitmask)
	return out
}

func decodeAcksBody(body []byte) (msgID uint64, bitmask uint32, err error) {
	if len(body) != 12 {
		return 0, 0, fmt.Errorf("iwp: decodeAcksBody: wrong size: got %d want 12", len(body))
	}
	return binary.BigEndian.Uint64(body[0:8]), binary.BigEndian.Uint32(body[8:12]), nil
}

// setFragment installs fragment data at index idx, marking its bit acked
// locally (the receiver acks fragments it already possesses). Returns true
// if this is new information (the bit was not already set).
func (tm *transitMessage) setFragment(idx uint8, data []byte) bool {
	if int(idx) >= len(tm.fragments) {
		return false
	}
	wasSet := tm.Bitmask&(1<<idx) != 0
	tm.fragments[idx] = append([]byte(nil), data...)
	tm.Bitmask |= 1 << idx
	return !wasSet
}

// applyAck merges an ACKS bitmask into the sender-side record of which
// fragments the receiver has confirmed. Idempotent: applying the same mask
// twice leaves the state unchanged.
func (tm *transitMessage) applyAck(mask uint32) {
	tm.Bitmask |= mask
}

// complete reports whether every fragment bit in [0, numfrags] is set,
// per the fragment mask completeness invariant.
func (tm *transitMessage) complete() bool {
	want := int(tm.NumFrags) + 1
	full := uint32(0)
	if want >= 32 {
		full = 0xFFFFFFFF
	} else {
		full = (uint32(1) << uint(want)) - 1
	}
	return tm.Bitmask&full == full
}

// popcount reports the number of acknowledged fragment bits currently set.
func (tm *transitMessage) popcount() int { return bits.OnesCount32(tm.Bitmask) }

// reassemble concatenates every fragment in order. Callers must check
// complete() first.
func (tm *transitMessage) reassemble() []byte {
	total := 0
	for _, f := range tm.fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range tm.fragments {
		out = append(out, f...)
	}
	return out
}

// verify checks the reassembled message's short hash against ContentHash,
// per the reassembly invariant. Hash mismatch means silent discard
// (possible corruption or tampering).
func (tm *transitMessage) verify(provider crypto.Provider) ([]byte, error) {
	body := tm.reassemble()
	got := provider.ShortHash(body)
	if got != tm.ContentHash {
		return nil, fragmentHashMismatchErr()
	}
	return body, nil
}

// missingFragments returns the indices of fragments not yet present,
// ascending, used when deciding which FRAGs to (re)transmit.
func (tm *transitMessage) missingFragments() []uint8 {
	var missing []uint8
	for i := 0; i <= int(tm.NumFrags); i++ {
		if tm.Bitmask&(1<<uint(i)) == 0 {
			missing = append(missing, uint8(i))
		}
	}
	return missing
}
