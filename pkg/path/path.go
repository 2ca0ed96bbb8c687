// Package path implements the onion path subsystem: the layered-encryption
// packet codec, the per-hop transit table maintained by every relay, and the
// client-side owned-path builder and lifecycle.
//
// A path is an ordered list of hops H0..Hn-1. The client agrees a pair of
// symmetric keys with each hop (one per direction) during the build. Traffic
// leaving the client is wrapped in n layers, innermost first, and each hop
// strips exactly one layer before forwarding; traffic returning from the
// terminus has a layer added by each hop in turn and the client strips all n
// on arrival.
package path

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// x25519Pub derives the public key for a clamped X25519 secret, used when
// sealing LR_CommitMessage records against a hop's long-term encryption
// key. Mirrors pkg/iwp's identical helper for the link-layer handshake.
func x25519Pub(secret []byte) ([]byte, error) {
	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("path: x25519Pub: %w", err)
	}
	return pub, nil
}

// ID is a path's 16-byte opaque identifier. A single onion path carries a
// distinct ID on each hop.
type ID [crypto.PathIDSize]byte

// String renders an ID as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// NewID draws a fresh random path ID from provider.
func NewID(provider crypto.Provider) (ID, error) {
	var id ID
	if err := provider.RandBytes(id[:]); err != nil {
		return id, fmt.Errorf("path: new id: %w", err)
	}
	return id, nil
}

// HopKeys is the per-hop symmetric key material agreed during a path build:
// one key for client->terminus traffic and one for the reverse direction.
// Both are derived from the same combined classical-DH + PQ-KEM secret; see
// deriveHopKeys.
type HopKeys struct {
	Router      rc.RouterID
	IngressPath ID // the PathID this hop expects to see on inbound traffic
	ForwardKey  []byte
	BackwardKey []byte
}

// deriveHopKeys expands a combined DH+KEM secret into the forward and
// backward keys for one hop, slicing a single 64-byte blake2b-512 digest
// into the two directional keys at fixed offsets.
func deriveHopKeys(provider crypto.Provider, combined []byte) (forward, backward []byte) {
	material := provider.Hash(append(append([]byte(nil), combined...), []byte("go-llarp-path-hop-v1")...))
	forward = append([]byte(nil), material[0:32]...)
	backward = append([]byte(nil), material[32:64]...)
	return forward, backward
}

// combineSecrets folds a classical DH shared secret and a PQ-KEM shared
// secret into one combined secret, so that breaking either primitive alone
// does not recover the hop's traffic keys.
func combineSecrets(provider crypto.Provider, dhShared, kemShared []byte) []byte {
	sum := provider.Hash(append(append([]byte(nil), dhShared...), kemShared...))
	return sum[:]
}

// wrapOneLayer encrypts plaintext under key with a freshly drawn nonce and
// returns (nonce, ciphertext). The nonce is not derivable from the key
// material; it travels alongside the ciphertext exactly once, at the layer
// that produced it.
func wrapOneLayer(provider crypto.Provider, key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, crypto.NonceSize)
	if err := provider.RandBytes(nonce); err != nil {
		return nil, nil, fmt.Errorf("path: wrap layer: %w", err)
	}
	ciphertext = append([]byte(nil), plaintext...)
	if err := provider.XChaCha20(ciphertext, key, nonce); err != nil {
		return nil, nil, fmt.Errorf("path: wrap layer: %w", err)
	}
	return nonce, ciphertext, nil
}

// peelOneLayer reverses wrapOneLayer: XChaCha20 is its own inverse given the
// same key and nonce.
func peelOneLayer(provider crypto.Provider, key, nonce, ciphertext []byte) ([]byte, error) {
	plaintext := append([]byte(nil), ciphertext...)
	if err := provider.XChaCha20(plaintext, key, nonce); err != nil {
		return nil, fmt.Errorf("path: peel layer: %w", err)
	}
	return plaintext, nil
}
