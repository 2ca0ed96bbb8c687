package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/flow"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// DHTOp is one of the five DHT operations: FindRouter,
// GotRouter, PublishIntroSet, FindIntroSet, GotIntroSet.
type DHTOp uint8

const (
	OpFindRouter DHTOp = iota + 1
	OpGotRouter
	OpPublishIntroSet
	OpFindIntroSet
	OpGotIntroSet
)

func (op DHTOp) String() string {
	switch op {
	case OpFindRouter:
		return "FindRouter"
	case OpGotRouter:
		return "GotRouter"
	case OpPublishIntroSet:
		return "PublishIntroSet"
	case OpFindIntroSet:
		return "FindIntroSet"
	case OpGotIntroSet:
		return "GotIntroSet"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", op)
	}
}

// DHTMessage is the TagDHT body: an operation, the 64-bit transaction id
// that matches a response to its request, and the operation's payload.
type DHTMessage struct {
	Op    DHTOp
	TxID  uint64
	Bytes []byte // opaque per-op payload: RouterID, RC, IntroSet or ServiceAddress
}

func (m *DHTMessage) Encode() []byte {
	buf := make([]byte, 0, 16+len(m.Bytes))
	buf = append(buf, byte(m.Op))
	var tx [8]byte
	binary.BigEndian.PutUint64(tx[:], m.TxID)
	buf = append(buf, tx[:]...)
	buf = appendField(buf, m.Bytes)
	return buf
}

func DecodeDHTMessage(raw []byte) (*DHTMessage, error) {
	if len(raw) < 9 {
		return nil, fmt.Errorf("dispatch: decode dht message: truncated header")
	}
	m := &DHTMessage{Op: DHTOp(raw[0])}
	m.TxID = binary.BigEndian.Uint64(raw[1:9])
	rest := raw[9:]

	var err error
	m.Bytes, rest, err = readField(rest)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode dht message: payload: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("dispatch: decode dht message: %d trailing bytes", len(rest))
	}
	return m, nil
}

// FindRouterMessage builds the FindRouter DHT message for id.
func FindRouterMessage(txID uint64, id rc.RouterID) *DHTMessage {
	return &DHTMessage{Op: OpFindRouter, TxID: txID, Bytes: append([]byte(nil), id[:]...)}
}

// GotRouterMessage builds the GotRouter reply carrying contact.
func GotRouterMessage(txID uint64, contact *rc.RC) (*DHTMessage, error) {
	encoded, err := contact.Encode()
	if err != nil {
		return nil, fmt.Errorf("dispatch: got router message: %w", err)
	}
	return &DHTMessage{Op: OpGotRouter, TxID: txID, Bytes: encoded}, nil
}

// PublishIntroSetMessage builds the PublishIntroSet request carrying introset.
func PublishIntroSetMessage(txID uint64, introset *flow.IntroSet) (*DHTMessage, error) {
	encoded, err := introset.Encode()
	if err != nil {
		return nil, fmt.Errorf("dispatch: publish introset message: %w", err)
	}
	return &DHTMessage{Op: OpPublishIntroSet, TxID: txID, Bytes: encoded}, nil
}

// FindIntroSetMessage builds the FindIntroSet request for addr.
func FindIntroSetMessage(txID uint64, addr flow.ServiceAddress) *DHTMessage {
	return &DHTMessage{Op: OpFindIntroSet, TxID: txID, Bytes: append([]byte(nil), addr[:]...)}
}

// GotIntroSetMessage builds the GotIntroSet reply carrying introset.
func GotIntroSetMessage(txID uint64, introset *flow.IntroSet) (*DHTMessage, error) {
	encoded, err := introset.Encode()
	if err != nil {
		return nil, fmt.Errorf("dispatch: got introset message: %w", err)
	}
	return &DHTMessage{Op: OpGotIntroSet, TxID: txID, Bytes: encoded}, nil
}
