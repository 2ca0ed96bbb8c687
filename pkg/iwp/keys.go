package iwp

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// x25519Basepoint derives the public key for a clamped X25519 secret. This
// mirrors pkg/crypto's own dependency on curve25519 for the classical DH
// leg of the handshake; Session needs it to mint per-handshake ephemeral
// keypairs, which the crypto.Provider interface does not expose directly
// since it only models the DH *operation*, not key generation.
func x25519Basepoint(secret []byte) ([]byte, error) {
	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("iwp: x25519Basepoint: %w", err)
	}
	return pub, nil
}
