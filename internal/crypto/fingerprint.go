package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// canonicalHex renders a big.Int the way the EBICS key-hash algorithm
// requires: the minimal big-endian byte form (no leading zero byte),
// hex-encoded, uppercased, and left-padded with a single "0" if that
// yields an odd number of hex digits.
func canonicalHex(n *big.Int) string {
	b := n.Bytes() // big.Int.Bytes() already strips leading zero bytes
	h := strings.ToUpper(hex.EncodeToString(b))
	if len(h)%2 != 0 {
		h = "0" + h
	}
	return h
}

// Fingerprint computes the EBICS canonical SHA-256 fingerprint of a public
// key: SHA-256 over the ASCII string "<exponent-hex> <modulus-hex>", both
// rendered per canonicalHex. This is the value printed on INI/HIA key
// letters and compared against a bank's HPB response.
func Fingerprint(pub *rsa.PublicKey) [32]byte {
	exp := big.NewInt(int64(pub.E))
	line := canonicalHex(exp) + " " + canonicalHex(pub.N)
	return sha256.Sum256([]byte(line))
}

// FingerprintHex renders Fingerprint as the lowercase hex string used in
// operator-facing key letters.
func FingerprintHex(pub *rsa.PublicKey) string {
	sum := Fingerprint(pub)
	return hex.EncodeToString(sum[:])
}
