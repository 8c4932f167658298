package scheduler

import (
	"crypto/rsa"
	"fmt"

	nexuscrypto "ebicsnexus/internal/crypto"
	"ebicsnexus/internal/store"
)

// subscriberKeys is a subscriber's RSA material parsed out of the
// DER-encoded columns the store persists.
type subscriberKeys struct {
	Auth, Enc, Sig    *rsa.PrivateKey
	BankAuth, BankEnc *rsa.PublicKey

	// SigSigner defaults to wrapping Sig but is overridden by
	// Submitter.sigSigner when the signature role lives in KMS instead
	// of the key file.
	SigSigner nexuscrypto.Signer
}

func loadSubscriberKeys(sub *store.Subscriber) (*subscriberKeys, error) {
	auth, err := nexuscrypto.ParsePrivateKey(sub.AuthPriv)
	if err != nil {
		return nil, fmt.Errorf("scheduler: subscriber %d auth key: %w", sub.ID, err)
	}
	enc, err := nexuscrypto.ParsePrivateKey(sub.EncPriv)
	if err != nil {
		return nil, fmt.Errorf("scheduler: subscriber %d enc key: %w", sub.ID, err)
	}
	sig, err := nexuscrypto.ParsePrivateKey(sub.SigPriv)
	if err != nil {
		return nil, fmt.Errorf("scheduler: subscriber %d sig key: %w", sub.ID, err)
	}

	keys := &subscriberKeys{Auth: auth, Enc: enc, Sig: sig, SigSigner: nexuscrypto.NewRSASigner(sig)}

	if sub.BankAuthPub != nil {
		bankAuth, err := nexuscrypto.ParsePublicKey(sub.BankAuthPub)
		if err != nil {
			return nil, fmt.Errorf("scheduler: subscriber %d bank auth key: %w", sub.ID, err)
		}
		keys.BankAuth = bankAuth
	}
	if sub.BankEncPub != nil {
		bankEnc, err := nexuscrypto.ParsePublicKey(sub.BankEncPub)
		if err != nil {
			return nil, fmt.Errorf("scheduler: subscriber %d bank enc key: %w", sub.ID, err)
		}
		keys.BankEnc = bankEnc
	}

	return keys, nil
}
