// Package security provides side-channel hygiene helpers shared by the
// crypto, link and path layers: constant-time comparison of secrets and
// authenticators, best-effort zeroing of key material, and overflow-checked
// conversions for the wire-format integer fields used throughout the link
// layer.
package security

import (
	"crypto/subtle"
	"fmt"
	"math"
	"time"
)

// ConstantTimeCompare reports whether a and b are equal without leaking
// timing information about where they first differ. Used for HMAC and
// handshake authenticator checks.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ZeroBytes overwrites b with zeroes. It does not prevent the Go runtime
// from having copied the data elsewhere (e.g. during a GC move or compiler
// optimization), but it removes the easiest-to-recover copy.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SafeInt64ToUint32 converts an int64 to uint32, rejecting values that would
// overflow or underflow. Used when decoding wire-format fields (e.g. the
// XMIT fragment size) into fixed-width counters.
func SafeInt64ToUint32(val int64) (uint32, error) {
	if val < 0 {
		return 0, fmt.Errorf("security: negative value cannot convert to uint32: %d", val)
	}
	if val > math.MaxUint32 {
		return 0, fmt.Errorf("security: value exceeds uint32 range: %d", val)
	}
	return uint32(val), nil
}

// SafeIntToUint16 converts an int to uint16, rejecting out-of-range values.
func SafeIntToUint16(val int) (uint16, error) {
	if val < 0 {
		return 0, fmt.Errorf("security: negative value cannot convert to uint16: %d", val)
	}
	if val > math.MaxUint16 {
		return 0, fmt.Errorf("security: value exceeds uint16 range: %d", val)
	}
	return uint16(val), nil
}

// SafeUnixToUint64 converts a time.Time to a Unix-seconds uint64, rejecting
// times before the epoch.
func SafeUnixToUint64(t time.Time) (uint64, error) {
	unix := t.Unix()
	if unix < 0 {
		return 0, fmt.Errorf("security: negative timestamp: %d", unix)
	}
	return uint64(unix), nil
}
