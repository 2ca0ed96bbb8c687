// Package crypto provides the cryptographic primitives used by the overlay
// network core. It wraps Go's standard crypto libraries plus a small
// post-quantum KEM behind a single Provider interface so the link layer,
// path subsystem and flow layer never touch a concrete algorithm directly.
//
// Security considerations:
// - All random number generation uses crypto/rand (CSPRNG).
// - Key and authenticator comparisons use constant-time operations (see
//   the security package).
// - Secret buffers should be zeroed after use (see security.ZeroBytes).
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/go-llarp/pkg/security"
)

// Byte sizes of the core primitives.
const (
	PubKeySize    = 32
	SecKeySize    = 64 // ed25519 private key (seed || pub) per crypto/ed25519
	NonceSize     = chacha20.NonceSizeX // 24
	SharedKeySize = 32
	HashSize      = 64
	ShortHashSize = 32
	HMACSize      = 32
	SigSize       = ed25519.SignatureSize // 64
	PathIDSize    = 16

	dhInfoLabel = "go-llarp-dh-v1"
)

// Provider is the abstract capability bundle consumed by every other
// package in this module. Tests substitute pkg/testing's deterministic
// fake; production code uses New().
type Provider interface {
	DHClient(theirs, oursSecret, nonce []byte) ([]byte, error)
	DHServer(theirs, oursSecret, nonce []byte) ([]byte, error)

	XChaCha20(buf, key, nonce []byte) error

	Hash(buf []byte) [HashSize]byte
	ShortHash(buf []byte) [ShortHashSize]byte
	HMAC(key, buf []byte) [HMACSize]byte

	Sign(secret ed25519.PrivateKey, buf []byte) [SigSize]byte
	Verify(pub ed25519.PublicKey, buf []byte, sig []byte) bool

	RandBytes(out []byte) error
	RandUint64() (uint64, error)

	PQKeyGen() (pub *kyber768.PublicKey, secret *kyber768.PrivateKey, err error)
	PQEncapsulate(pub *kyber768.PublicKey) (ciphertext, shared []byte, err error)
	PQDecapsulate(ciphertext []byte, secret *kyber768.PrivateKey) (shared []byte, err error)
}

// Default is the production Provider backed by curve25519, blake2b,
// xchacha20, ed25519 and kyber768.
type Default struct{}

// New returns the default crypto provider.
func New() *Default { return &Default{} }

// dh computes the raw X25519 shared point and expands it with the peer
// nonce through HKDF-SHA256. Because X25519 scalar multiplication is
// symmetric (scalarmult(a, B) == scalarmult(b, A) for the same pair of
// keys) DHClient and DHServer compute byte-identical output for the two
// participants in a handshake; the distinct names exist only to make call
// sites self-documenting about which role's secret is being supplied.
func dh(theirs, oursSecret, nonce []byte) ([]byte, error) {
	if len(theirs) != PubKeySize {
		return nil, fmt.Errorf("crypto: dh: peer public key must be %d bytes, got %d", PubKeySize, len(theirs))
	}
	if len(oursSecret) != PubKeySize {
		return nil, fmt.Errorf("crypto: dh: local secret must be %d bytes, got %d", PubKeySize, len(oursSecret))
	}
	raw, err := curve25519.X25519(oursSecret, theirs)
	if err != nil {
		return nil, fmt.Errorf("crypto: dh: scalar multiplication failed: %w", err)
	}
	defer security.ZeroBytes(raw)

	out := make([]byte, SharedKeySize)
	r := hkdf.New(sha256.New, raw, nonce, []byte(dhInfoLabel))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: dh: hkdf expansion failed: %w", err)
	}
	return out, nil
}

// DHClient derives the shared key for the handshake initiator: theirs is
// the responder's long-term encryption public key, oursSecret is the
// initiator's ephemeral secret.
func (Default) DHClient(theirs, oursSecret, nonce []byte) ([]byte, error) {
	return dh(theirs, oursSecret, nonce)
}

// DHServer derives the shared key for the handshake responder: theirs is
// the initiator's ephemeral public key, oursSecret is the responder's
// ephemeral (or long-term) secret.
func (Default) DHServer(theirs, oursSecret, nonce []byte) ([]byte, error) {
	return dh(theirs, oursSecret, nonce)
}

// XChaCha20 encrypts or decrypts buf in place using XChaCha20 (encrypt and
// decrypt are the same operation for a stream cipher).
func (Default) XChaCha20(buf, key, nonce []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("crypto: xchacha20: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return fmt.Errorf("crypto: xchacha20: %w", err)
	}
	c.XORKeyStream(buf, buf)
	return nil
}

// Hash returns the 64-byte blake2b-512 digest of buf.
func (Default) Hash(buf []byte) [HashSize]byte {
	return blake2b.Sum512(buf)
}

// ShortHash returns the 32-byte blake2b-256 digest of buf.
func (Default) ShortHash(buf []byte) [ShortHashSize]byte {
	return blake2b.Sum256(buf)
}

// HMAC returns HMAC-SHA256(key, buf), used to authenticate every
// post-handshake link frame.
func (Default) HMAC(key, buf []byte) [HMACSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(buf)
	var out [HMACSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Sign signs buf with an ed25519 secret key.
func (Default) Sign(secret ed25519.PrivateKey, buf []byte) [SigSize]byte {
	var out [SigSize]byte
	copy(out[:], ed25519.Sign(secret, buf))
	return out
}

// Verify checks an ed25519 signature.
func (Default) Verify(pub ed25519.PublicKey, buf []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != SigSize {
		return false
	}
	return ed25519.Verify(pub, buf, sig)
}

// RandBytes fills out with cryptographically secure random bytes.
func (Default) RandBytes(out []byte) error {
	_, err := io.ReadFull(rand.Reader, out)
	return err
}

// RandUint64 returns a uniformly random uint64.
func (Default) RandUint64() (uint64, error) {
	var b [8]byte
	if err := (Default{}).RandBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// PQKeyGen generates a fresh Kyber768 key encapsulation key pair. This is
// combined with a classical DH share on every path hop so that forward
// secrecy survives a classical break at record time.
func (Default) PQKeyGen() (*kyber768.PublicKey, *kyber768.PrivateKey, error) {
	pub, priv, err := kyber768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: pq keygen failed: %w", err)
	}
	return pub, priv, nil
}

// PQEncapsulate produces a ciphertext and shared secret under the given
// Kyber768 public key.
func (Default) PQEncapsulate(pub *kyber768.PublicKey) (ciphertext, shared []byte, err error) {
	ct := make([]byte, kyber768.CiphertextSize)
	ss := make([]byte, kyber768.SharedKeySize)
	seed := make([]byte, kyber768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, fmt.Errorf("crypto: pq encapsulate: seed: %w", err)
	}
	pub.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// PQDecapsulate recovers the shared secret from a Kyber768 ciphertext.
func (Default) PQDecapsulate(ciphertext []byte, secret *kyber768.PrivateKey) (shared []byte, err error) {
	if len(ciphertext) != kyber768.CiphertextSize {
		return nil, fmt.Errorf("crypto: pq decapsulate: ciphertext must be %d bytes, got %d", kyber768.CiphertextSize, len(ciphertext))
	}
	ss := make([]byte, kyber768.SharedKeySize)
	secret.DecapsulateTo(ss, ciphertext)
	return ss, nil
}
