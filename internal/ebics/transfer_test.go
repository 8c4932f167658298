package ebics

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"ebicsnexus/internal/codec"
	nexuscrypto "ebicsnexus/internal/crypto"
)

func TestPrepareUploadBuildsVerifiableRequests(t *testing.T) {
	sig, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)
	bankEnc, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("<Document>pain.001 payload</Document>")
	init, err := PrepareUpload(payload, nexuscrypto.NewRSASigner(sig.Private), bankEnc.Public)
	require.NoError(t, err)
	require.NotEmpty(t, init.Segments)

	ctx := RequestContext{Version: H004, HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1"}
	authKP, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	req, err := BuildUploadInitRequest(ctx, init, bankEnc.Public, authKP.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(req, authKP.Public))

	if len(init.Segments) > 1 {
		transferReq, err := BuildUploadTransferRequest(ctx, "TXN1", 2, len(init.Segments), init.Segments[1], authKP.Private)
		require.NoError(t, err)
		require.NoError(t, VerifyEnvelope(transferReq, authKP.Public))
	}
}

func TestDownloadAssembly(t *testing.T) {
	bankEnc, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("<Document>camt.053 statement</Document>")
	compressed, err := codec.Deflate(plaintext)
	require.NoError(t, err)

	env, err := nexuscrypto.EncryptE002(compressed, bankEnc.Public)
	require.NoError(t, err)

	segments := []string{base64.StdEncoding.EncodeToString(env.Ciphertext)}
	assembled, err := AssembleDownload(env.TransactionKey, segments, bankEnc.Private)
	require.NoError(t, err)
	require.Equal(t, plaintext, assembled)
}

func TestDownloadRequestsSignAndVerify(t *testing.T) {
	authKP, err := nexuscrypto.GenerateKeyPair()
	require.NoError(t, err)
	ctx := RequestContext{Version: H005, HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1"}

	initReq, err := BuildDownloadInitRequest(ctx, OrderC53, "2026-07-01", "2026-07-31", authKP.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(initReq, authKP.Public))

	transferReq, err := BuildDownloadTransferRequest(ctx, "TXN2", 2, authKP.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(transferReq, authKP.Public))

	receiptReq, err := BuildDownloadReceiptRequest(ctx, "TXN2", "0", authKP.Private)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(receiptReq, authKP.Public))
}
