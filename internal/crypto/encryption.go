package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// aesKeySize is the AES-128 session key size mandated by the EBICS E002
// encryption algorithm.
const aesKeySize = 16

// Envelope is the result of an E002 encryption: the RSA-OAEP wrapped AES
// session key (the "transaction key" in EBICS terminology) plus the
// AES-CBC ciphertext, together with the fingerprint of the public key the
// session key was wrapped for.
type Envelope struct {
	TransactionKey   []byte  // RSA-OAEP(recipient_pub, aes_key)
	Ciphertext       []byte  // AES-128-CBC(aes_key, zero_iv, pkcs7(payload))
	RecipientDigest  [32]byte
}

// EncryptE002 hybrid-encrypts a payload for recipientPub: a fresh 16-byte
// AES key is generated, the payload is PKCS#7-padded and AES-128-CBC
// encrypted with an all-zero IV (the EBICS convention — the IV does not
// need to be unpredictable because the AES key itself is freshly
// generated per message), and the AES key is then RSA-OAEP wrapped under
// recipientPub.
func EncryptE002(payload []byte, recipientPub *rsa.PublicKey) (*Envelope, error) {
	aesKey := make([]byte, aesKeySize)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("crypto: generate session key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}

	padded := pkcs7Pad(payload, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	iv := make([]byte, block.BlockSize())
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipientPub, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrap session key: %w", err)
	}

	return &Envelope{
		TransactionKey:  wrapped,
		Ciphertext:      ciphertext,
		RecipientDigest: Fingerprint(recipientPub),
	}, nil
}

// DecryptE002 reverses EncryptE002. ourPriv must be the private key whose
// fingerprint matches env.RecipientDigest; callers are expected to have
// already selected the right key by comparing digests (see
// SelectDecryptionKey), but DecryptE002 double-checks as a defence
// against a caller that didn't.
func DecryptE002(env *Envelope, ourPriv *rsa.PrivateKey) ([]byte, error) {
	ourDigest := Fingerprint(&ourPriv.PublicKey)
	if ourDigest != env.RecipientDigest {
		return nil, &ErrWrongRecipient{Want: env.RecipientDigest, Have: ourDigest}
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, ourPriv, env.TransactionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap session key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	if len(env.Ciphertext) == 0 || len(env.Ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("crypto: ciphertext is not a multiple of the block size")
	}

	iv := make([]byte, block.BlockSize())
	plainPadded := make([]byte, len(env.Ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, env.Ciphertext)

	return pkcs7Unpad(plainPadded)
}

// SelectDecryptionKey returns whichever of the candidate private keys
// matches the envelope's recorded recipient digest, or an error if none
// do — the "wrong recipient" case from spec.md §4.1.
func SelectDecryptionKey(env *Envelope, candidates ...*rsa.PrivateKey) (*rsa.PrivateKey, error) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if Fingerprint(&c.PublicKey) == env.RecipientDigest {
			return c, nil
		}
	}
	return nil, fmt.Errorf("crypto: no candidate key matches recipient digest %x", env.RecipientDigest)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("crypto: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("crypto: invalid pkcs7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("crypto: invalid pkcs7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
