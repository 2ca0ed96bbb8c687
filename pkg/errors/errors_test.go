package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := New(KindHandshakeFailure, "bad authenticator")
	if got := e.Error(); got != "[handshake_failure] bad authenticator" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(KindHandshakeFailure, "bad authenticator", fmt.Errorf("io timeout"))
	if got := wrapped.Error(); got != "[handshake_failure] bad authenticator: io timeout" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	e := Wrap(KindSessionTimeout, "no frames received", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is did not find wrapped cause")
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := New(KindPathBuildTimeout, "attempt one")
	b := New(KindPathBuildTimeout, "attempt two")
	c := New(KindPathBuildRejected, "rejected")

	if !errors.Is(a, b) {
		t.Error("expected errors of the same Kind to match")
	}
	if errors.Is(a, c) {
		t.Error("expected errors of different Kind not to match")
	}
}

func TestWithContext(t *testing.T) {
	e := New(KindReplayDetected, "sequence reused").WithContext("seq", uint64(42))
	if e.Context["seq"] != uint64(42) {
		t.Errorf("context not set: %v", e.Context)
	}
}

func TestGetKind(t *testing.T) {
	if k := GetKind(New(KindCongested, "full queue")); k != KindCongested {
		t.Errorf("GetKind = %v, want %v", k, KindCongested)
	}
	if k := GetKind(fmt.Errorf("plain error")); k != KindInternal {
		t.Errorf("GetKind of plain error = %v, want %v", k, KindInternal)
	}
}

func TestIsKind(t *testing.T) {
	e := Wrap(KindFragmentHashMismatch, "content hash mismatch", fmt.Errorf("corrupt"))
	if !IsKind(e, KindFragmentHashMismatch) {
		t.Error("IsKind false negative")
	}
	if IsKind(e, KindReplayDetected) {
		t.Error("IsKind false positive")
	}
}

func TestRetryableAndSurfaced(t *testing.T) {
	if !New(KindPathBuildTimeout, "").Retryable() {
		t.Error("KindPathBuildTimeout should be retryable")
	}
	if New(KindAuthenticatorMismatch, "").Retryable() {
		t.Error("KindAuthenticatorMismatch should not be retryable")
	}
	if !New(KindIntroSetLookupFailed, "").Surfaced() {
		t.Error("KindIntroSetLookupFailed should be surfaced")
	}
	if New(KindReplayDetected, "").Surfaced() {
		t.Error("KindReplayDetected should not be surfaced")
	}
}

func TestIsRetryableHelper(t *testing.T) {
	if !IsRetryable(New(KindIntroSetStale, "")) {
		t.Error("IsRetryable false negative")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("IsRetryable should be false for non-*Error")
	}
}
