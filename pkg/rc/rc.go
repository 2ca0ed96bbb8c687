// Package rc implements the router contact store: the in-memory index of
// signed router identities that the path builder samples hops from.
package rc

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cloudflare/circl/kem/kyber/kyber768"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// RouterID is a router's 32-byte public signing key.
type RouterID [crypto.PubKeySize]byte

// String renders the RouterID as lowercase hex, for logging and store keys.
func (id RouterID) String() string {
	return hex.EncodeToString(id[:])
}

// RouterIDFromBytes copies b into a RouterID. b must be exactly
// crypto.PubKeySize bytes.
func RouterIDFromBytes(b []byte) (RouterID, error) {
	var id RouterID
	if len(b) != crypto.PubKeySize {
		return id, fmt.Errorf("rc: router id must be %d bytes, got %d", crypto.PubKeySize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// RC is a self-signed router contact: the router's public signing key, an
// encryption public key, its reachable addresses, a version tag and a
// signed expiry. The signature must verify under SigningPubKey, and a
// current RC is never used past ExpiresAt.
type RC struct {
	SigningPubKey    ed25519.PublicKey
	EncryptionPubKey []byte
	// KEMPublicKey is the router's Kyber768 encapsulation key. The path
	// builder seals each LR_CommitMessage hop record under both this and
	// EncryptionPubKey so a classical break alone cannot recover a past
	// path's per-hop keys.
	KEMPublicKey []byte
	Addresses    []string
	Version      uint16
	ExpiresAt    time.Time
	Signature    []byte
}

// RouterID returns the RC's identity, derived from its signing key.
func (rc *RC) RouterID() (RouterID, error) {
	return RouterIDFromBytes(rc.SigningPubKey)
}

// signedPayload returns the canonical byte encoding that Sign/Verify operate
// over: every field except Signature itself, in a fixed order so both sides
// agree on what was signed.
func (rc *RC) signedPayload() []byte {
	buf := make([]byte, 0, 64+len(rc.Addresses)*32)
	buf = append(buf, rc.SigningPubKey...)
	buf = append(buf, rc.EncryptionPubKey...)
	buf = append(buf, rc.KEMPublicKey...)
	for _, addr := range rc.Addresses {
		buf = append(buf, []byte(addr)...)
		buf = append(buf, 0)
	}
	var versionBytes [2]byte
	versionBytes[0] = byte(rc.Version >> 8)
	versionBytes[1] = byte(rc.Version)
	buf = append(buf, versionBytes[:]...)
	expiry, _ := rc.ExpiresAt.UTC().MarshalBinary()
	buf = append(buf, expiry...)
	return buf
}

// Sign computes and attaches the RC's signature using secret, which must
// correspond to SigningPubKey.
func (rc *RC) Sign(provider crypto.Provider, secret ed25519.PrivateKey) {
	sig := provider.Sign(secret, rc.signedPayload())
	rc.Signature = sig[:]
}

// Verify reports whether the RC's signature is valid and it is not expired
// as of now.
func (rc *RC) Verify(provider crypto.Provider, now time.Time) error {
	if len(rc.SigningPubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("rc: signing key must be %d bytes, got %d", ed25519.PublicKeySize, len(rc.SigningPubKey))
	}
	if len(rc.EncryptionPubKey) != crypto.PubKeySize {
		return fmt.Errorf("rc: encryption key must be %d bytes, got %d", crypto.PubKeySize, len(rc.EncryptionPubKey))
	}
	if len(rc.KEMPublicKey) != kyber768.PublicKeySize {
		return fmt.Errorf("rc: kem key must be %d bytes, got %d", kyber768.PublicKeySize, len(rc.KEMPublicKey))
	}
	if !provider.Verify(rc.SigningPubKey, rc.signedPayload(), rc.Signature) {
		return fmt.Errorf("rc: signature does not verify")
	}
	if now.After(rc.ExpiresAt) {
		return fmt.Errorf("rc: expired at %s", rc.ExpiresAt)
	}
	return nil
}
