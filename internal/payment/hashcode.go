package payment

import (
	"encoding/json"
	"fmt"

	"ebicsnexus/internal/codec"
)

// ShortHashCode is a 32-byte fixed-size value (a reserve public key or a
// WTID) that serialises as a 52-character Crockford Base32 string.
type ShortHashCode [32]byte

// HashCode is a 64-byte fixed-size value serialising as a 103-character
// Crockford Base32 string.
type HashCode [64]byte

func (h ShortHashCode) String() string { return codec.EncodeCrockford(h[:]) }
func (h HashCode) String() string      { return codec.EncodeCrockford(h[:]) }

// ParseShortHashCode decodes a 52-character Crockford string into a
// 32-byte hash code.
func ParseShortHashCode(s string) (ShortHashCode, error) {
	b, err := codec.DecodeCrockfordFixed(s, 32)
	if err != nil {
		return ShortHashCode{}, fmt.Errorf("payment: parse hash code: %w", err)
	}
	var h ShortHashCode
	copy(h[:], b)
	return h, nil
}

// ParseHashCode decodes a 103-character Crockford string into a 64-byte
// hash code.
func ParseHashCode(s string) (HashCode, error) {
	b, err := codec.DecodeCrockfordFixed(s, 64)
	if err != nil {
		return HashCode{}, fmt.Errorf("payment: parse hash code: %w", err)
	}
	var h HashCode
	copy(h[:], b)
	return h, nil
}

func (h ShortHashCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *ShortHashCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseShortHashCode(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h HashCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *HashCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHashCode(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
