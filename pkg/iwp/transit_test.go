package iwp

import (
	"bytes"
	"testing"

	"github.com/opd-ai/go-llarp/pkg/crypto"
)

// Reassembly must invert fragmentation for every fragment size in use.
func TestFragmentReassembleRoundTrip(t *testing.T) {
	provider := crypto.New()

	for _, fragSize := range []uint16{256, 512, 1024, 1100} {
		for _, msgLen := range []int{1, 100, int(fragSize), int(fragSize) + 1, 3*int(fragSize) + 17} {
			if msgLen > MaxMessageSize {
				continue
			}
			body := make([]byte, msgLen)
			for i := range body {
				body[i] = byte(i * 31)
			}

			tm, err := fragmentMessage(provider, 9, body, fragSize)
			if err != nil {
				t.Fatalf("fragmentMessage(len=%d, frag=%d): %v", msgLen, fragSize, err)
			}

			// Mark every fragment present, the way a receiver that heard
			// them all would.
			for i := 0; i <= int(tm.NumFrags); i++ {
				tm.Bitmask |= 1 << uint(i)
			}
			if !tm.complete() {
				t.Fatalf("len=%d frag=%d: all bits set but complete() is false", msgLen, fragSize)
			}

			got, err := tm.verify(provider)
			if err != nil {
				t.Fatalf("verify(len=%d, frag=%d): %v", msgLen, fragSize, err)
			}
			if !bytes.Equal(got, body) {
				t.Fatalf("len=%d frag=%d: reassembled message differs from original", msgLen, fragSize)
			}
		}
	}
}

func TestFragmentMessageRejectsOversize(t *testing.T) {
	provider := crypto.New()
	if _, err := fragmentMessage(provider, 1, make([]byte, MaxMessageSize+1), MaxFragmentSize); err == nil {
		t.Fatal("expected error for message above MaxMessageSize")
	}
	// 250-byte fragments cannot address an 8 KiB message within the
	// 32-fragment bitmask.
	if _, err := fragmentMessage(provider, 1, make([]byte, MaxMessageSize), 250); err == nil {
		t.Fatal("expected error when the fragment count exceeds the bitmask width")
	}
}

func TestVerifyRejectsCorruptReassembly(t *testing.T) {
	provider := crypto.New()
	body := make([]byte, 2*MaxFragmentSize+50)
	for i := range body {
		body[i] = byte(i)
	}

	tm, err := fragmentMessage(provider, 3, body, MaxFragmentSize)
	if err != nil {
		t.Fatalf("fragmentMessage: %v", err)
	}
	for i := 0; i <= int(tm.NumFrags); i++ {
		tm.Bitmask |= 1 << uint(i)
	}

	// Corrupt one fragment after hashing.
	corrupted := append([]byte(nil), tm.fragments[1]...)
	corrupted[0] ^= 0xFF
	tm.fragments[1] = corrupted

	if _, err := tm.verify(provider); err == nil {
		t.Fatal("expected hash mismatch for corrupted reassembly")
	}
}
