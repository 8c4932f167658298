package ebics

import (
	"testing"

	"github.com/stretchr/testify/require"

	nexuscrypto "ebicsnexus/internal/crypto"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<ebicsRequest xmlns="urn:org:ebics:H004">` +
	`<header authenticate="true"><static><HostID>HOST1</HostID></static></header>` +
	`<AuthSignature></AuthSignature>` +
	`<body authenticate="true"><DataTransfer><OrderData>abc</OrderData></DataTransfer></body>` +
	`</ebicsRequest>`

func TestSignAndVerifyEnvelope(t *testing.T) {
	kp, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignEnvelope([]byte(sampleDoc), kp.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(signed, kp.Public))
}

func TestVerifyEnvelopeRejectsTamperedBody(t *testing.T) {
	kp, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignEnvelope([]byte(sampleDoc), kp.Private)
	require.NoError(t, err)

	tampered := []byte(replaceOnce(string(signed), "abc", "xyz"))

	err = VerifyEnvelope(tampered, kp.Public)
	require.Error(t, err)
}

func TestVerifyEnvelopeRejectsWrongKey(t *testing.T) {
	kp, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := SignEnvelope([]byte(sampleDoc), kp.Private)
	require.NoError(t, err)

	err = VerifyEnvelope(signed, other.Public)
	require.Error(t, err)
}

func replaceOnce(s, old, new string) string {
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
