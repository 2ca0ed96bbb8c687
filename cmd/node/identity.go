package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/go-llarp/pkg/config"
	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// Key file names under the data directory. The signing key is the
// ed25519 private key, the encryption key the clamped X25519 secret, the
// KEM key the packed Kyber768 private key, and self.rc the most recently
// signed router contact.
const (
	signingKeyFile    = "signing.key"
	encryptionKeyFile = "encryption.key"
	kemKeyFile        = "kem.key"
	selfRCFile        = "self.rc"
)

// rcLifetime is how long a freshly signed router contact stays valid.
const rcLifetime = 24 * time.Hour

// identity bundles the router's long-term key material and its signed
// contact.
type identity struct {
	signSecret ed25519.PrivateKey
	encSecret  []byte
	kemSecret  *kyber768.PrivateKey
	contact    *rc.RC
}

// loadOrCreateIdentity reads the router's keys from the data directory,
// generating and persisting fresh ones on first run, then signs a current
// RC advertising cfg.ListenAddr.
func loadOrCreateIdentity(provider crypto.Provider, cfg *config.Config) (*identity, error) {
	if err := os.MkdirAll(cfg.DataDirectory, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	id := &identity{}

	signPath := filepath.Join(cfg.DataDirectory, signingKeyFile)
	if raw, err := os.ReadFile(signPath); err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signing key %s has wrong size %d", signPath, len(raw))
		}
		id.signSecret = ed25519.PrivateKey(raw)
	} else if os.IsNotExist(err) {
		_, sec, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		id.signSecret = sec
		if err := os.WriteFile(signPath, sec, 0o600); err != nil {
			return nil, fmt.Errorf("write signing key: %w", err)
		}
	} else {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	encPath := filepath.Join(cfg.DataDirectory, encryptionKeyFile)
	if raw, err := os.ReadFile(encPath); err == nil {
		if len(raw) != crypto.PubKeySize {
			return nil, fmt.Errorf("encryption key %s has wrong size %d", encPath, len(raw))
		}
		id.encSecret = raw
	} else if os.IsNotExist(err) {
		sec := make([]byte, crypto.PubKeySize)
		if err := provider.RandBytes(sec); err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		id.encSecret = sec
		if err := os.WriteFile(encPath, sec, 0o600); err != nil {
			return nil, fmt.Errorf("write encryption key: %w", err)
		}
	} else {
		return nil, fmt.Errorf("read encryption key: %w", err)
	}

	kemPath := filepath.Join(cfg.DataDirectory, kemKeyFile)
	if raw, err := os.ReadFile(kemPath); err == nil {
		sk, err := kyber768.Scheme().UnmarshalBinaryPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal kem key: %w", err)
		}
		kemSec, ok := sk.(*kyber768.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("kem key %s is not a kyber768 private key", kemPath)
		}
		id.kemSecret = kemSec
	} else if os.IsNotExist(err) {
		_, kemSec, err := provider.PQKeyGen()
		if err != nil {
			return nil, fmt.Errorf("generate kem key: %w", err)
		}
		id.kemSecret = kemSec
		packed, err := kemSec.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal kem key: %w", err)
		}
		if err := os.WriteFile(kemPath, packed, 0o600); err != nil {
			return nil, fmt.Errorf("write kem key: %w", err)
		}
	} else {
		return nil, fmt.Errorf("read kem key: %w", err)
	}

	encPub, err := curve25519.X25519(id.encSecret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive encryption public key: %w", err)
	}
	kemPub, ok := id.kemSecret.Public().(*kyber768.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive kem public key: unexpected type")
	}
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal kem public key: %w", err)
	}

	contact := &rc.RC{
		SigningPubKey:    id.signSecret.Public().(ed25519.PublicKey),
		EncryptionPubKey: encPub,
		KEMPublicKey:     kemPubBytes,
		Addresses:        []string{cfg.ListenAddr},
		Version:          1,
		ExpiresAt:        time.Now().Add(rcLifetime),
	}
	contact.Sign(provider, id.signSecret)
	id.contact = contact

	return id, nil
}

// save persists the most recently signed RC, called at shutdown.
func (id *identity) save(cfg *config.Config) error {
	encoded, err := id.contact.Encode()
	if err != nil {
		return fmt.Errorf("encode rc: %w", err)
	}
	rcPath := filepath.Join(cfg.DataDirectory, selfRCFile)
	if err := os.WriteFile(rcPath, encoded, 0o600); err != nil {
		return fmt.Errorf("write rc: %w", err)
	}
	return nil
}
