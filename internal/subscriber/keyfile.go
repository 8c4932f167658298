// Package subscriber implements the EBICS subscriber lifecycle
// (spec.md §4.10): the on-disk key file sealing the three RSA private
// keys and key-management progress flags, the bank public-key file, and
// optional OS-keychain passphrase storage so an operator is not
// prompted on every run.
package subscriber

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations is the PBKDF2-HMAC-SHA256 round count used to derive
// the AES-256 key-file encryption key from an operator passphrase.
const pbkdf2Iterations = 200_000

// KeyFile is the persisted record of a subscriber's private key
// material and key-management progress (spec.md §4.10).
type KeyFile struct {
	PartnerID        string `json:"partner_id"`
	UserID           string `json:"user_id"`
	HostID           string `json:"host_id"`
	AuthPrivPKCS8    []byte `json:"auth_priv"`
	EncPrivPKCS8     []byte `json:"enc_priv"`
	SigPrivPKCS8     []byte `json:"sig_priv"`
	SubmittedINI     bool   `json:"submitted_ini"`
	SubmittedHIA     bool   `json:"submitted_hia"`
	BankKeysAccepted bool   `json:"bank_keys_accepted"`
}

// KeyPair bundles the three RSA roles EBICS requires per subscriber.
type KeyPair struct {
	Auth *rsa.PrivateKey
	Enc  *rsa.PrivateKey
	Sig  *rsa.PrivateKey
}

// sealedEnvelope is the on-disk wire format when a passphrase is set:
// a PBKDF2 salt, an AES-GCM nonce, and the ciphertext of the marshalled
// KeyFile.
type sealedEnvelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewKeyFile generates a fresh set of subscriber keys at FRESH state.
func NewKeyFile(partnerID, userID, hostID string, keys KeyPair) (*KeyFile, error) {
	authDER, err := x509.MarshalPKCS8PrivateKey(keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("subscriber: marshal auth key: %w", err)
	}
	encDER, err := x509.MarshalPKCS8PrivateKey(keys.Enc)
	if err != nil {
		return nil, fmt.Errorf("subscriber: marshal enc key: %w", err)
	}
	sigDER, err := x509.MarshalPKCS8PrivateKey(keys.Sig)
	if err != nil {
		return nil, fmt.Errorf("subscriber: marshal sig key: %w", err)
	}
	return &KeyFile{
		PartnerID:     partnerID,
		UserID:        userID,
		HostID:        hostID,
		AuthPrivPKCS8: authDER,
		EncPrivPKCS8:  encDER,
		SigPrivPKCS8:  sigDER,
	}, nil
}

// Keys parses the stored PKCS#8 DER blobs back into usable RSA keys.
func (k *KeyFile) Keys() (KeyPair, error) {
	auth, err := parseRSAKey(k.AuthPrivPKCS8)
	if err != nil {
		return KeyPair{}, fmt.Errorf("subscriber: auth key: %w", err)
	}
	enc, err := parseRSAKey(k.EncPrivPKCS8)
	if err != nil {
		return KeyPair{}, fmt.Errorf("subscriber: enc key: %w", err)
	}
	sig, err := parseRSAKey(k.SigPrivPKCS8)
	if err != nil {
		return KeyPair{}, fmt.Errorf("subscriber: sig key: %w", err)
	}
	return KeyPair{Auth: auth, Enc: enc, Sig: sig}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// Save writes the key file to path, AES-256-GCM sealed under passphrase
// if non-empty, or plaintext JSON otherwise.
func Save(path string, kf *KeyFile, passphrase string) error {
	plain, err := json.Marshal(kf)
	if err != nil {
		return fmt.Errorf("subscriber: marshal key file: %w", err)
	}

	if passphrase == "" {
		return os.WriteFile(path, plain, 0o600)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("subscriber: generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("subscriber: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("subscriber: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("subscriber: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plain, nil)

	envelope, err := json.Marshal(sealedEnvelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("subscriber: marshal envelope: %w", err)
	}
	return os.WriteFile(path, envelope, 0o600)
}

// Load reads and, if sealed, decrypts the key file at path. An empty
// passphrase is only valid against a plaintext file.
func Load(path string, passphrase string) (*KeyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subscriber: read key file: %w", err)
	}

	var kf KeyFile
	if json.Unmarshal(raw, &kf) == nil && kf.AuthPrivPKCS8 != nil {
		return &kf, nil
	}

	var envelope sealedEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("subscriber: key file is neither plaintext nor a sealed envelope: %w", err)
	}
	if passphrase == "" {
		return nil, errors.New("subscriber: key file is passphrase-sealed but no passphrase was supplied")
	}

	key := pbkdf2.Key([]byte(passphrase), envelope.Salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("subscriber: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("subscriber: gcm: %w", err)
	}
	plain, err := gcm.Open(nil, envelope.Nonce, envelope.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("subscriber: wrong passphrase or corrupt key file: %w", err)
	}

	if err := json.Unmarshal(plain, &kf); err != nil {
		return nil, fmt.Errorf("subscriber: unmarshal sealed key file: %w", err)
	}
	return &kf, nil
}

// BankKeyFile is the persisted record of the bank's public keys and
// whether the operator has confirmed them out-of-band.
type BankKeyFile struct {
	AuthPub  []byte `json:"auth_pub"`  // X.509 DER
	EncPub   []byte `json:"enc_pub"`
	Accepted bool   `json:"accepted"`
}

// SaveBankKeys writes the bank key file in plaintext (it carries no
// private material).
func SaveBankKeys(path string, bk *BankKeyFile) error {
	raw, err := json.Marshal(bk)
	if err != nil {
		return fmt.Errorf("subscriber: marshal bank key file: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// LoadBankKeys reads the bank key file.
func LoadBankKeys(path string) (*BankKeyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subscriber: read bank key file: %w", err)
	}
	var bk BankKeyFile
	if err := json.Unmarshal(raw, &bk); err != nil {
		return nil, fmt.Errorf("subscriber: unmarshal bank key file: %w", err)
	}
	return &bk, nil
}

// keyringServiceName namespaces this gateway's passphrase entries
// within whichever OS keychain backend is available.
const keyringServiceName = "ebicsnexus"

// OpenPassphraseStore opens the OS-native secret store for caching the
// key-file passphrase across CLI invocations, mirroring the
// cross-platform backend-selection fallback used for wallet secrets
// elsewhere in this codebase's lineage.
func OpenPassphraseStore() (keyring.Keyring, error) {
	if runtime.GOOS == "linux" {
		return openLinuxPassphraseStore()
	}
	return keyring.Open(keyring.Config{
		ServiceName:              keyringServiceName,
		KeychainName:             keyringServiceName,
		KeychainTrustApplication: true,
	})
}

func openLinuxPassphraseStore() (keyring.Keyring, error) {
	var attempts []string
	for _, backend := range []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend} {
		ring, err := keyring.Open(keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainName:             keyringServiceName,
			KeychainTrustApplication: true,
			AllowedBackends:          []keyring.BackendType{backend},
		})
		if err == nil {
			return ring, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", backend, err))
	}
	return nil, fmt.Errorf("subscriber: no secure keyring backend available:\n  - %s", strings.Join(attempts, "\n  - "))
}

// passphraseKey is the keyring item key a subscriber's passphrase is
// stored under, scoped by user id so one keychain can hold several
// subscribers' passphrases.
func passphraseKey(userID string) string {
	return "keyfile-passphrase-" + userID
}

// SavePassphrase stores passphrase in the OS keychain for userID.
func SavePassphrase(ring keyring.Keyring, userID, passphrase string) error {
	return ring.Set(keyring.Item{Key: passphraseKey(userID), Data: []byte(passphrase)})
}

// LoadPassphrase retrieves a previously-stored passphrase for userID, if
// any.
func LoadPassphrase(ring keyring.Keyring, userID string) (string, bool) {
	item, err := ring.Get(passphraseKey(userID))
	if err != nil {
		return "", false
	}
	return string(item.Data), true
}
