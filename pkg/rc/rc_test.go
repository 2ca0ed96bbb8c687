package rc

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

func generateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

func randBytes(t *testing.T, provider crypto.Provider) []byte {
	t.Helper()
	b := make([]byte, crypto.PubKeySize)
	if err := provider.RandBytes(b); err != nil {
		t.Fatalf("rand bytes: %v", err)
	}
	return b
}

func kemPubBytes(t *testing.T, provider crypto.Provider) []byte {
	t.Helper()
	pub, _, err := provider.PQKeyGen()
	if err != nil {
		t.Fatalf("pq keygen: %v", err)
	}
	b, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal kem pub: %v", err)
	}
	return b
}

func newSignedRC(t *testing.T, provider crypto.Provider, version uint16, expiresAt time.Time) (*RC, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encPub := make([]byte, crypto.PubKeySize)
	if err := provider.RandBytes(encPub); err != nil {
		t.Fatalf("rand bytes: %v", err)
	}

	candidate := &RC{
		SigningPubKey:    pub,
		EncryptionPubKey: encPub,
		KEMPublicKey:     kemPubBytes(t, provider),
		Addresses:        []string{"10.0.0.1:1090"},
		Version:          version,
		ExpiresAt:        expiresAt,
	}
	candidate.Sign(provider, priv)
	return candidate, priv
}

func TestRCSignAndVerify(t *testing.T) {
	provider := crypto.New()
	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))

	if err := candidate.Verify(provider, time.Now()); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestRCVerifyRejectsTamperedPayload(t *testing.T) {
	provider := crypto.New()
	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(time.Hour))

	candidate.Addresses = append(candidate.Addresses, "10.0.0.2:1090")

	if err := candidate.Verify(provider, time.Now()); err == nil {
		t.Fatal("Verify() should reject a modified RC")
	}
}

func TestRCVerifyRejectsExpired(t *testing.T) {
	provider := crypto.New()
	candidate, _ := newSignedRC(t, provider, 1, time.Now().Add(-time.Minute))

	if err := candidate.Verify(provider, time.Now()); err == nil {
		t.Fatal("Verify() should reject an expired RC")
	}
}

func TestRouterIDFromBytes(t *testing.T) {
	ok := make([]byte, crypto.PubKeySize)
	if _, err := RouterIDFromBytes(ok); err != nil {
		t.Errorf("RouterIDFromBytes() error = %v", err)
	}

	short := make([]byte, crypto.PubKeySize-1)
	if _, err := RouterIDFromBytes(short); err == nil {
		t.Error("RouterIDFromBytes() should reject a short slice")
	}
}

func TestRouterIDString(t *testing.T) {
	var id RouterID
	id[0] = 0xde
	id[1] = 0xad
	if got := id.String()[:4]; got != "dead" {
		t.Errorf("String() = %s, want prefix dead", got)
	}
}
