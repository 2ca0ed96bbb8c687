package rc

import (
	"testing"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

func TestStorePutAndGet(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
	if err := store.Put(candidate); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	id, _ := candidate.RouterID()
	got, ok := store.Get(id)
	if !ok {
		t.Fatal("Get() did not find the stored RC")
	}
	if got != candidate {
		t.Error("Get() returned a different RC")
	}
}

func TestStorePutRejectsInvalidSignature(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
	candidate.Signature[0] ^= 0xff

	if err := store.Put(candidate); err == nil {
		t.Fatal("Put() should reject an RC with an invalid signature")
	}
}

func TestStorePutKeepsNewerVersion(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	pub, priv, err := generateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	v1 := &RC{
		SigningPubKey:    pub,
		EncryptionPubKey: randBytes(t, provider),
		KEMPublicKey:     kemPubBytes(t, provider),
		Addresses:        []string{"10.0.0.1:1090"},
		Version:          1,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	v1.Sign(provider, priv)
	if err := store.Put(v1); err != nil {
		t.Fatalf("Put(v1) error = %v", err)
	}

	v2 := &RC{
		SigningPubKey:    pub,
		EncryptionPubKey: v1.EncryptionPubKey,
		KEMPublicKey:     v1.KEMPublicKey,
		Addresses:        []string{"10.0.0.2:1090"},
		Version:          2,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	v2.Sign(provider, priv)
	if err := store.Put(v2); err != nil {
		t.Fatalf("Put(v2) error = %v", err)
	}

	id, _ := v1.RouterID()
	got, _ := store.Get(id)
	if got.Version != 2 {
		t.Errorf("Get() returned version %d, want 2", got.Version)
	}

	// An older version must not overwrite the newer one already stored.
	stale := &RC{
		SigningPubKey:    pub,
		EncryptionPubKey: v1.EncryptionPubKey,
		KEMPublicKey:     v1.KEMPublicKey,
		Addresses:        []string{"10.0.0.3:1090"},
		Version:          1,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	stale.Sign(provider, priv)
	if err := store.Put(stale); err != nil {
		t.Fatalf("Put(stale) error = %v", err)
	}
	got, _ = store.Get(id)
	if got.Version != 2 {
		t.Errorf("stale Put() should not replace newer RC, got version %d", got.Version)
	}
}

func TestStorePrune(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	fresh, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
	if err := store.Put(fresh); err != nil {
		t.Fatalf("Put(fresh) error = %v", err)
	}

	expiring, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Millisecond))
	if err := store.Put(expiring); err != nil {
		t.Fatalf("Put(expiring) error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	removed := store.Prune(time.Now())
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStoreRandomSample(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	const total = 10
	for i := 0; i < total; i++ {
		candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
		if err := store.Put(candidate); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	sample, err := store.RandomSample(4, nil)
	if err != nil {
		t.Fatalf("RandomSample() error = %v", err)
	}
	if len(sample) != 4 {
		t.Fatalf("RandomSample() returned %d entries, want 4", len(sample))
	}

	seen := make(map[*RC]bool)
	for _, candidate := range sample {
		if seen[candidate] {
			t.Error("RandomSample() returned a duplicate entry")
		}
		seen[candidate] = true
	}
}

func TestStoreRandomSampleHonorsFilter(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
	if err := store.Put(candidate); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	id, _ := candidate.RouterID()

	blacklist := map[RouterID]bool{id: true}
	sample, err := store.RandomSample(5, func(sampleID RouterID, _ *RC) bool {
		return !blacklist[sampleID]
	})
	if err != nil {
		t.Fatalf("RandomSample() error = %v", err)
	}
	if len(sample) != 0 {
		t.Errorf("RandomSample() should have excluded the blacklisted router, got %d entries", len(sample))
	}
}

func TestStoreRandomSampleMoreThanAvailable(t *testing.T) {
	provider := crypto.New()
	store := NewStore(provider)

	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))
	if err := store.Put(candidate); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	sample, err := store.RandomSample(5, nil)
	if err != nil {
		t.Fatalf("RandomSample() error = %v", err)
	}
	if len(sample) != 1 {
		t.Errorf("RandomSample() = %d entries, want 1 (only one RC available)", len(sample))
	}
}
