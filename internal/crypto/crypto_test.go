package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	other, err := GenerateKeyPair()
	require.NoError(t, err)

	digest := DigestA006([]byte("pain.001 document bytes"))

	sig, err := SignA006(digest, kp.Private)
	require.NoError(t, err)

	require.NoError(t, VerifyA006(digest, sig, kp.Public))
	require.Error(t, VerifyA006(digest, sig, other.Public))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("a pain.001 document, padded or not, any length at all")
	env, err := EncryptE002(payload, recipient.Public)
	require.NoError(t, err)

	got, err := DecryptE002(env, recipient.Private)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecryptWrongRecipient(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)
	wrong, err := GenerateKeyPair()
	require.NoError(t, err)

	env, err := EncryptE002([]byte("secret"), recipient.Public)
	require.NoError(t, err)

	_, err = DecryptE002(env, wrong.Private)
	require.Error(t, err)
	var wrongRecipient *ErrWrongRecipient
	require.ErrorAs(t, err, &wrongRecipient)
}

func TestFingerprintDeterministic(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	a := Fingerprint(kp.Public)
	b := Fingerprint(kp.Public)
	require.Equal(t, a, b)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, a, Fingerprint(other.Public))
}

func TestSelectDecryptionKey(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	env, err := EncryptE002([]byte("payload"), b.Public)
	require.NoError(t, err)

	selected, err := SelectDecryptionKey(env, a.Private, b.Private)
	require.NoError(t, err)
	require.Equal(t, b.Private, selected)

	_, err = SelectDecryptionKey(env, a.Private)
	require.Error(t, err)
}
