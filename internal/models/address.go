package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadAddress is returned when parsing a malformed address string.
var ErrBadAddress = errors.New("malformed address")

// ErrBadUID is returned when parsing a malformed 32-byte identifier string.
var ErrBadUID = errors.New("malformed uid")

// Address is a 20-byte EVM-style identity. Comparison is byte equality, so
// mixed-case hex inputs normalize to the same value at parse time.
type Address [20]byte

// ZeroAddress is the sentinel for "no identity" (native-asset marker,
// unused task slot).
var ZeroAddress Address

// ParseAddress decodes a 0x-prefixed 40-hex-char address. Case is ignored.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, ok := strip0x(s)
	if !ok || len(raw) != 40 {
		return a, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	copy(a[:], b)
	return a, nil
}

// MustAddress is ParseAddress that panics; for tests and fixed constants.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is the zero sentinel.
func (a Address) IsZero() bool { return a == ZeroAddress }

// String formats as lowercase 0x-prefixed hex.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler (JSON object keys and values).
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UID is a 32-byte identifier: attestation uids and schema uids.
type UID [32]byte

// ZeroUID is the registry's "not found" sentinel.
var ZeroUID UID

// ParseUID decodes a 0x-prefixed 64-hex-char identifier.
func ParseUID(s string) (UID, error) {
	var u UID
	raw, ok := strip0x(s)
	if !ok || len(raw) != 64 {
		return u, fmt.Errorf("%w: %q", ErrBadUID, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return u, fmt.Errorf("%w: %q", ErrBadUID, s)
	}
	copy(u[:], b)
	return u, nil
}

// MustUID is ParseUID that panics; for tests and fixed constants.
func MustUID(s string) UID {
	u, err := ParseUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// IsZero reports whether the uid is the zero sentinel.
func (u UID) IsZero() bool { return u == ZeroUID }

// String formats as lowercase 0x-prefixed hex.
func (u UID) String() string { return "0x" + hex.EncodeToString(u[:]) }

// MarshalText implements encoding.TextMarshaler.
func (u UID) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UID) UnmarshalText(b []byte) error {
	parsed, err := ParseUID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func strip0x(s string) (string, bool) {
	if len(s) < 2 || !strings.EqualFold(s[:2], "0x") {
		return "", false
	}
	return s[2:], true
}
