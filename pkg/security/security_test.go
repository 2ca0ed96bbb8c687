package security

import (
	"testing"
	"time"
)

func TestConstantTimeCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"equal", []byte("abc"), []byte("abc"), true},
		{"different length", []byte("abc"), []byte("abcd"), false},
		{"different content", []byte("abc"), []byte("abd"), false},
		{"both empty", nil, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ConstantTimeCompare(c.a, c.b); got != c.want {
				t.Errorf("ConstantTimeCompare(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ZeroBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not zeroed: %v", i, v)
		}
	}
}

func TestSafeInt64ToUint32(t *testing.T) {
	if _, err := SafeInt64ToUint32(-1); err == nil {
		t.Error("expected error for negative value")
	}
	if _, err := SafeInt64ToUint32(1 << 40); err == nil {
		t.Error("expected error for overflow")
	}
	v, err := SafeInt64ToUint32(42)
	if err != nil || v != 42 {
		t.Errorf("SafeInt64ToUint32(42) = %v, %v", v, err)
	}
}

func TestSafeIntToUint16(t *testing.T) {
	if _, err := SafeIntToUint16(-1); err == nil {
		t.Error("expected error for negative value")
	}
	if _, err := SafeIntToUint16(70000); err == nil {
		t.Error("expected error for overflow")
	}
	v, err := SafeIntToUint16(1100)
	if err != nil || v != 1100 {
		t.Errorf("SafeIntToUint16(1100) = %v, %v", v, err)
	}
}

func TestSafeUnixToUint64(t *testing.T) {
	if _, err := SafeUnixToUint64(time.Unix(-1000, 0)); err == nil {
		t.Error("expected error for pre-epoch timestamp")
	}
	v, err := SafeUnixToUint64(time.Unix(1000, 0))
	if err != nil || v != 1000 {
		t.Errorf("SafeUnixToUint64 = %v, %v", v, err)
	}
}
