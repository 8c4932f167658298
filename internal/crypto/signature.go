package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// DigestA006 computes the SHA-256 digest of a payload under the EBICS
// A006 order-signature convention. EBICS's own XML-DSig canonicalisation
// happens one layer up, in the message/authentication layer (package
// ebics); this digest is taken over the payload bytes exactly as
// produced by the caller (ebics.PrepareUpload passes the uncompressed
// pain.001 document).
func DigestA006(payload []byte) [32]byte {
	return sha256.Sum256(payload)
}

// SignA006 produces a PKCS#1 v1.5 RSA signature (algorithm identifier
// A006) over an EBICS order digest, using the subscriber's signature
// private key.
func SignA006(digest [32]byte, sigPriv *rsa.PrivateKey) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, sigPriv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign A006: %w", err)
	}
	return sig, nil
}

// VerifyA006 checks a PKCS#1 v1.5 signature over an EBICS order digest.
func VerifyA006(digest [32]byte, sig []byte, pub *rsa.PublicKey) error {
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("crypto: verify A006: %w", err)
	}
	return nil
}
