package codec

import (
	"fmt"
	"strings"
)

// crockfordAlphabet is the 32-symbol Crockford Base32 alphabet: digits and
// uppercase letters with I, L, O and U excluded (folded onto 1, 1, 0 and V
// respectively by the decoder below).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeTable [256]int8

func init() {
	for i := range crockfordDecodeTable {
		crockfordDecodeTable[i] = -1
	}
	for i, c := range crockfordAlphabet {
		crockfordDecodeTable[c] = int8(i)
		crockfordDecodeTable[strings.ToLower(string(c))[0]] = int8(i)
	}
	// Ambiguous-character aliases, case-insensitive.
	alias := map[byte]byte{
		'O': '0', 'o': '0',
		'I': '1', 'i': '1',
		'L': '1', 'l': '1',
		'U': 'V', 'u': 'V',
	}
	for from, to := range alias {
		crockfordDecodeTable[from] = crockfordDecodeTable[to]
	}
}

// EncodeCrockford renders data as Crockford Base32: 5-bit groups taken
// most-significant-bit first, the final group zero-padded on the right if
// the input isn't a multiple of 5 bits. There is no padding character;
// the wire length is always ceil(8*len(data)/5).
func EncodeCrockford(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	outLen := (len(data)*8 + 4) / 5
	out := make([]byte, outLen)

	var buf uint64
	var bits uint
	oi := 0
	for _, b := range data {
		buf = (buf << 8) | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			idx := (buf >> bits) & 0x1f
			out[oi] = crockfordAlphabet[idx]
			oi++
		}
	}
	if bits > 0 {
		idx := (buf << (5 - bits)) & 0x1f
		out[oi] = crockfordAlphabet[idx]
		oi++
	}
	return string(out)
}

// DecodeCrockford parses a Crockford Base32 string back into bytes,
// applying the case-insensitive O/I/L/U aliasing the format allows. It
// returns an error on any character outside the (aliased) alphabet, and
// verifies that any bits beyond a whole number of bytes are the zero
// padding an encoder would have produced (a non-zero tail means the
// string was corrupted or is not a Crockford encoding of fixed-size
// binary data).
func DecodeCrockford(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	totalBits := len(s) * 5
	outLen := totalBits / 8
	tailBits := totalBits % 8

	out := make([]byte, outLen)
	var buf uint64
	var bits uint
	oi := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		v := crockfordDecodeTable[c]
		if v < 0 {
			return nil, fmt.Errorf("codec: invalid crockford character %q at offset %d", c, i)
		}
		buf = (buf << 5) | uint64(v)
		bits += 5
		for bits >= 8 {
			bits -= 8
			out[oi] = byte((buf >> bits) & 0xff)
			oi++
		}
	}

	if tailBits > 0 {
		mask := uint64(1<<bits) - 1
		if buf&mask != 0 {
			return nil, fmt.Errorf("codec: non-zero padding bits in crockford string")
		}
	}

	return out, nil
}

// DecodeCrockfordFixed decodes s and requires the result to be exactly n
// bytes, the invariant the fixed-size hash-code wrappers (32 and 64
// bytes) enforce on the wire.
func DecodeCrockfordFixed(s string, n int) ([]byte, error) {
	b, err := DecodeCrockford(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("codec: crockford string decodes to %d bytes, want %d", len(b), n)
	}
	return b, nil
}
