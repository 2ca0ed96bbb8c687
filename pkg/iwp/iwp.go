// Package iwp implements the link layer: an encrypted, message-oriented UDP
// session between two routers. It carries framed inter-router messages,
// handling the handshake, fragmentation/reassembly, retransmission and ACK
// coding.
package iwp

import (
	"fmt"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Wire size constants
const (
	// MaxFragmentSize is the size of a standard FRAG fragment.
	MaxFragmentSize = 1024
	// MaxMessageSize is the largest message the link layer will fragment.
	MaxMessageSize = 8 * 1024
	// MaxUDPFrame is the maximum size of one outer frame before padding.
	MaxUDPFrame = 1200
	// MaxFragments is the hard cap on total fragments per message: a single
	// 32-bit ack bitmask must be able to address every fragment index.
	MaxFragments = 32

	outerHeaderSize = crypto.HMACSize + crypto.NonceSize // 32 + 24
	innerHeaderSize = 6                                  // version | msg_type | size_be16 | rsv | flags

	protocolVersion = 1
)

// Timing constants
const (
	DefaultSessionTimeout  = 10 * time.Second
	DefaultKeepAlive       = DefaultSessionTimeout / 4
	XmitRetransmitInterval = 1 * time.Second
	FragRetransmitInterval = 500 * time.Millisecond
	AcksMinInterval        = 200 * time.Millisecond
)

// MsgType is the inner message type carried by every post-handshake frame.
type MsgType uint8

const (
	// MsgALIV is a keepalive with no transport-layer payload.
	MsgALIV MsgType = 1
	// MsgXMIT initiates delivery of a new transit message.
	MsgXMIT MsgType = 2
	// MsgFRAG carries one continuation fragment of an in-flight message.
	MsgFRAG MsgType = 3
	// MsgACKS carries a fragment-acknowledgement bitmask.
	MsgACKS MsgType = 4
)

func (t MsgType) String() string {
	switch t {
	case MsgALIV:
		return "ALIV"
	case MsgXMIT:
		return "XMIT"
	case MsgFRAG:
		return "FRAG"
	case MsgACKS:
		return "ACKS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// Session-level flag bits carried on every post-handshake outer header.
// Flag agreement is computed as rx_flags & tx_flags.
const (
	FlagSessionInvalidated uint8 = 1 << 0
	FlagHighPacketDrop     uint8 = 1 << 1
	FlagHighMTUDetected    uint8 = 1 << 2
	FlagProtoUpgrade       uint8 = 1 << 3

	// xmitFlagBegin is the only defined bit in the XMIT-specific flags
	// byte.
	xmitFlagBegin uint8 = 1 << 0
)

// State is a link session's position in the handshake/lifecycle state
// machine.
type State int

const (
	StateInitial State = iota
	StateIntroSent
	StateIntroRecv
	StateIntroAckSent
	StateIntroAckRecv
	StateSessionStartSent
	StateLIMSent
	StateEstablished
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateIntroSent:
		return "INTRO_SENT"
	case StateIntroRecv:
		return "INTRO_RECV"
	case StateIntroAckSent:
		return "INTRO_ACK_SENT"
	case StateIntroAckRecv:
		return "INTRO_ACK_RECV"
	case StateSessionStartSent:
		return "SESSION_START_SENT"
	case StateLIMSent:
		return "LIM_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Role distinguishes the two handshake participants: the Initiator sends
// Intro first, the Responder replies with IntroAck.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)
