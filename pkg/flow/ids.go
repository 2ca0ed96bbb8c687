// Package flow implements the hidden-service flow layer: introduction-set
// publication and lookup in the DHT, introduction-point selection, per-flow
// session key establishment, and end-to-end data messages carried over
// paths.
package flow

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// ServiceAddress is a hidden-service endpoint's 32-byte public signing
// key.
type ServiceAddress [crypto.PubKeySize]byte

// String renders a ServiceAddress as lowercase hex, for logging and store
// keys. A human-facing textual encoding belongs to the platform/config
// collaborator, not this layer.
func (a ServiceAddress) String() string {
	return hex.EncodeToString(a[:])
}

// ServiceAddressFromKey derives a ServiceAddress from an ed25519 public key.
func ServiceAddressFromKey(pub ed25519.PublicKey) (ServiceAddress, error) {
	var addr ServiceAddress
	if len(pub) != ed25519.PublicKeySize {
		return addr, fmt.Errorf("flow: service address: key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	copy(addr[:], pub)
	return addr, nil
}

// ConvoTag is the 16-byte opaque identifier labeling a bidirectional flow
// between two hidden-service endpoints.
type ConvoTag [16]byte

// String renders a ConvoTag as lowercase hex.
func (c ConvoTag) String() string {
	return hex.EncodeToString(c[:])
}

// NewConvoTag draws a fresh random ConvoTag from provider.
func NewConvoTag(provider crypto.Provider) (ConvoTag, error) {
	var tag ConvoTag
	if err := provider.RandBytes(tag[:]); err != nil {
		return tag, fmt.Errorf("flow: new convo tag: %w", err)
	}
	return tag, nil
}
