package crypto

import "crypto/rsa"

// Signer produces an A006 order signature over a digest. The default
// implementation signs with a local RSA private key; kmssign.Signer
// implements the same interface over an AWS KMS asymmetric key, for
// operators who keep the signature role's private key in an HSM instead
// of the on-disk key file (spec.md §4.10).
type Signer interface {
	Sign(digest [32]byte) ([]byte, error)
}

// rsaSigner adapts a local *rsa.PrivateKey to the Signer interface.
type rsaSigner struct {
	priv *rsa.PrivateKey
}

// NewRSASigner wraps a local signature private key as a Signer.
func NewRSASigner(priv *rsa.PrivateKey) Signer {
	return &rsaSigner{priv: priv}
}

func (s *rsaSigner) Sign(digest [32]byte) ([]byte, error) {
	return SignA006(digest, s.priv)
}
