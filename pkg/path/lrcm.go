package path

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/curve25519"

	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/rc"
)

// StatusCode is the result carried in an LR_StatusMessage.
type StatusCode uint8

const (
	StatusOK StatusCode = iota
	StatusReject
	StatusTimeout
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusReject:
		return "Reject"
	case StatusTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// record is the plaintext a single hop recovers after opening its sealed
// record: the next hop to forward to, the PathID it should install on
// ingress, the classical-DH public share, a lifetime, and the hop's
// position in the HMAC chain.
type record struct {
	NextRouter rc.RouterID
	NextPath   ID
	DHPublic   []byte // left zero by the builder for every hop; the DH share travels in the sealed record's prefix
	Lifetime   time.Duration
	ChainPos   uint8
	Terminal   bool
	// Introduction marks a terminal record built by Builder.BuildIntroduction:
	// the hop that opens it is being asked to act as an introduction point for
	// the builder's own service address, keeping the installed transit entry
	// reachable by PathID alone (see Core.introTerminals in pkg/dispatch)
	// rather than only by (upstream router, path id) like an ordinary transit
	// entry. Meaningless when Terminal is false.
	Introduction bool
}

func (r *record) encode() []byte {
	buf := make([]byte, 0, 32+16+32+8+1+1+1)
	buf = append(buf, r.NextRouter[:]...)
	buf = append(buf, r.NextPath[:]...)
	dh := make([]byte, crypto.PubKeySize)
	copy(dh, r.DHPublic)
	buf = append(buf, dh...)
	var lifetime [8]byte
	binary.BigEndian.PutUint64(lifetime[:], uint64(r.Lifetime))
	buf = append(buf, lifetime[:]...)
	buf = append(buf, r.ChainPos)
	buf = append(buf, boolByte(r.Terminal), boolByte(r.Introduction))
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func decodeRecord(b []byte) (*record, error) {
	const fixed = 32 + 16 + 32 + 8 + 1 + 1 + 1
	if len(b) != fixed {
		return nil, fmt.Errorf("path: decode record: expected %d bytes, got %d", fixed, len(b))
	}
	r := &record{}
	copy(r.NextRouter[:], b[0:32])
	copy(r.NextPath[:], b[32:48])
	r.DHPublic = append([]byte(nil), b[48:80]...)
	r.Lifetime = time.Duration(binary.BigEndian.Uint64(b[80:88]))
	r.ChainPos = b[88]
	r.Terminal = b[89] != 0
	r.Introduction = b[90] != 0
	return r, nil
}

// sealedRecord is one hop's onion-sealed record plus the ephemeral keys the
// client generated for that hop, kept locally so the builder can derive the
// same HopKeys the hop derives once it opens the record.
type sealedRecord struct {
	wire      []byte // DH ephemeral pub || PQ ciphertext || XChaCha20(combined, nonce, record)
	ephSecret []byte // client's ephemeral X25519 secret for this hop
	combined  []byte // DH+KEM combined secret, cached for HopKeys derivation
}

// sealRecordFor seals rec so that only hopRC's long-term keys can open it:
// a fresh ephemeral classical DH share combined with a PQ-KEM encapsulation
// against hopRC.KEMPublicKey, used to derive a one-time wrapping key.
func sealRecordFor(provider crypto.Provider, hopRC *rc.RC, rec *record) (*sealedRecord, error) {
	ephSecret := make([]byte, crypto.PubKeySize)
	if err := provider.RandBytes(ephSecret); err != nil {
		return nil, fmt.Errorf("path: seal record: ephemeral secret: %w", err)
	}
	ephPublic, err := curve25519.X25519(ephSecret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("path: seal record: ephemeral public: %w", err)
	}

	dhShared, err := provider.DHClient(hopRC.EncryptionPubKey, ephSecret, ephPublic)
	if err != nil {
		return nil, fmt.Errorf("path: seal record: dh: %w", err)
	}

	if len(hopRC.KEMPublicKey) != kyber768.PublicKeySize {
		return nil, fmt.Errorf("path: seal record: kem pub: must be %d bytes, got %d", kyber768.PublicKeySize, len(hopRC.KEMPublicKey))
	}
	kemPub := new(kyber768.PublicKey)
	kemPub.Unpack(hopRC.KEMPublicKey)
	kemCiphertext, kemShared, err := provider.PQEncapsulate(kemPub)
	if err != nil {
		return nil, fmt.Errorf("path: seal record: kem encapsulate: %w", err)
	}

	combined := combineSecrets(provider, dhShared, kemShared)
	wrapNonce, wrapCiphertext, err := wrapOneLayer(provider, combined, rec.encode())
	if err != nil {
		return nil, fmt.Errorf("path: seal record: wrap: %w", err)
	}

	wire := make([]byte, 0, len(ephPublic)+len(kemCiphertext)+len(wrapNonce)+len(wrapCiphertext))
	wire = append(wire, ephPublic...)
	wire = append(wire, kemCiphertext...)
	wire = append(wire, wrapNonce...)
	wire = append(wire, wrapCiphertext...)

	return &sealedRecord{wire: wire, ephSecret: ephSecret, combined: combined}, nil
}

// openRecord is the hop-side counterpart of sealRecordFor: it recovers the
// combined secret with the hop's own long-term keys and decrypts the
// record.
func openRecord(provider crypto.Provider, encSecret []byte, kemSecret *kyber768.PrivateKey, wire []byte) (*record, []byte, error) {
	if len(wire) < crypto.PubKeySize+kyber768.CiphertextSize+crypto.NonceSize {
		return nil, nil, fmt.Errorf("path: open record: wire too short")
	}
	ephPublic := wire[:crypto.PubKeySize]
	rest := wire[crypto.PubKeySize:]
	kemCiphertext := rest[:kyber768.CiphertextSize]
	rest = rest[kyber768.CiphertextSize:]
	nonce := rest[:crypto.NonceSize]
	ciphertext := rest[crypto.NonceSize:]

	dhShared, err := provider.DHServer(ephPublic, encSecret, ephPublic)
	if err != nil {
		return nil, nil, fmt.Errorf("path: open record: dh: %w", err)
	}
	kemShared, err := provider.PQDecapsulate(kemCiphertext, kemSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("path: open record: kem decapsulate: %w", err)
	}
	combined := combineSecrets(provider, dhShared, kemShared)

	plain, err := peelOneLayer(provider, combined, nonce, ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("path: open record: %w", err)
	}
	rec, err := decodeRecord(plain)
	if err != nil {
		return nil, nil, err
	}
	return rec, combined, nil
}

// CommitMessage is the client-built LR_CommitMessage: one sealed record per
// hop, ordered outermost (hop 0) first. Forwarding it down the
// partially-built path is the dispatch core's job; path only builds and
// opens the records.
type CommitMessage struct {
	PathLifetime time.Duration
	Records      [][]byte // sealedRecord.wire, one per hop in order
}

// StatusMessage is the terminal hop's signed LR_StatusMessage travelling
// back through the path to the builder. Path carries whatever PathID the
// current hop addressed the message with (it is rewritten hop by hop on
// the way upstream); Signature is the terminal hop's ed25519 signature
// over its own ingress PathID and the status code, carried verbatim so
// the builder can check the status really originated at the terminus and
// was not fabricated by a relaying transit hop.
type StatusMessage struct {
	Path      ID
	Status    StatusCode
	Signature []byte
}

const statusSignLabel = "go-llarp-lrsm-v1"

// statusSignedPayload is the byte string the terminal hop signs:
// a domain label, the signing hop's own ingress PathID, and the status.
func statusSignedPayload(terminalIngress ID, status StatusCode) []byte {
	buf := make([]byte, 0, len(statusSignLabel)+len(terminalIngress)+1)
	buf = append(buf, statusSignLabel...)
	buf = append(buf, terminalIngress[:]...)
	buf = append(buf, byte(status))
	return buf
}

// Sign attaches the terminal hop's signature under its identity key;
// terminalIngress is the signing hop's own ingress PathID.
func (sm *StatusMessage) Sign(provider crypto.Provider, secret ed25519.PrivateKey, terminalIngress ID) {
	sig := provider.Sign(secret, statusSignedPayload(terminalIngress, sm.Status))
	sm.Signature = sig[:]
}

// VerifySignature checks the signature under the terminal hop's identity
// (its RouterID is its signing public key); terminalIngress is the
// terminal hop's ingress PathID as the builder assigned it.
func (sm *StatusMessage) VerifySignature(provider crypto.Provider, terminal rc.RouterID, terminalIngress ID) bool {
	return provider.Verify(terminal[:], statusSignedPayload(terminalIngress, sm.Status), sm.Signature)
}
