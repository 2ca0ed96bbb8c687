package testing

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Provider is a crypto.Provider whose randomness is a seeded,
// reproducible stream. All deterministic primitives (DH, cipher, hash,
// HMAC, sign/verify, PQ KEM) delegate to the production implementation;
// only RandBytes/RandUint64 differ, so two Providers built from the
// same seed draw identical nonces, path IDs and convo tags.
type Provider struct {
	crypto.Default

	mu      sync.Mutex
	seed    [32]byte
	counter uint64
}

// NewProvider returns a deterministic provider drawing its random
// stream from seed.
func NewProvider(seed [32]byte) *Provider {
	return &Provider{seed: seed}
}

// RandBytes fills out from the seeded stream.
func (p *Provider) RandBytes(out []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filled := 0
	for filled < len(out) {
		var block [40]byte
		copy(block[:32], p.seed[:])
		binary.BigEndian.PutUint64(block[32:], p.counter)
		p.counter++
		digest := blake2b.Sum256(block[:])
		filled += copy(out[filled:], digest[:])
	}
	return nil
}

// RandUint64 draws the next 8 bytes of the stream as a big-endian value.
func (p *Provider) RandUint64() (uint64, error) {
	var buf [8]byte
	if err := p.RandBytes(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
