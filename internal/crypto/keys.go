// Package crypto implements the EBICS cryptographic envelope: RSA key
// generation, the EBICS canonical key fingerprint, the A006 signature
// scheme, and E002 hybrid AES/RSA-OAEP encryption.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

// KeyBits is the modulus size used for every EBICS key pair this gateway
// generates. Banks will accept 2048 or larger; EBICS itself places no
// upper bound.
const KeyBits = 2048

// KeyPair is an RSA key pair used for one of the three EBICS roles
// (authentication X002, encryption E002, signature A006).
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA key pair with the standard EBICS
// modulus size. The returned private key is in CRT form, as produced by
// crypto/rsa.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate rsa key: %w", err)
	}
	priv.Precompute()
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// FromPrivate wraps an already-loaded RSA private key as a KeyPair.
func FromPrivate(priv *rsa.PrivateKey) *KeyPair {
	return &KeyPair{Public: &priv.PublicKey, Private: priv}
}

// MarshalPrivateKey and MarshalPublicKey encode keys the way this
// gateway persists them (PKCS#8 for private keys, PKIX for public keys),
// so the store and the key-file format share one on-disk representation.

// MarshalPrivateKey encodes priv as PKCS#8 DER.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey decodes a PKCS#8 DER blob back into an RSA private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("crypto: parse private key: not an RSA key")
	}
	return rsaKey, nil
}

// MarshalPublicKey encodes pub as PKIX DER.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey decodes a PKIX DER blob back into an RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: parse public key: not an RSA key")
	}
	return rsaKey, nil
}

// ErrWrongRecipient is returned by decryption when the transaction key's
// recorded recipient digest does not match any of the subscriber's own
// public-key fingerprints.
type ErrWrongRecipient struct {
	Want [32]byte
	Have [32]byte
}

func (e *ErrWrongRecipient) Error() string {
	return fmt.Sprintf("crypto: ciphertext encrypted for key digest %x, not %x", e.Want, e.Have)
}
