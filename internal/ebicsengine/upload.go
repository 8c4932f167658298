package ebicsengine

import (
	"context"
	"crypto/rsa"
	"fmt"

	"ebicsnexus/internal/crypto"
	"ebicsnexus/internal/ebics"
)

// maxTxRetries bounds how many times a single segment is retried after a
// retryable EBICS return code (EBICS_TX_RECOVERY_SYNC,
// EBICS_TX_MESSAGE_REPLAY) before the transaction is abandoned, per
// spec.md §4.4's "Ordering, tie-breaks, retry" note.
const maxTxRetries = 3

// UploadResult is what a successful CCT upload leaves behind: the
// order-data digest the bank's business code acknowledged, useful as
// local evidence the exact bytes submitted were the ones accepted.
type UploadResult struct {
	OrderDataDigest [32]byte
}

// UploadCreditTransfer runs a full CCT upload transaction: prepare
// (sign+compress+encrypt+segment), Initialisation, every Transfer
// segment in order. It does not touch the store; the caller persists
// MarkSubmitted/MarkFailed based on the returned error.
func (e *Engine) UploadCreditTransfer(ctx context.Context, pain001 []byte, sigSigner crypto.Signer, bankEncPub *rsa.PublicKey, authPriv *rsa.PrivateKey) (*UploadResult, error) {
	init, err := ebics.PrepareUpload(pain001, sigSigner, bankEncPub)
	if err != nil {
		return nil, &CryptoError{Detail: err.Error()}
	}

	initReq, err := ebics.BuildUploadInitRequest(e.Context, init, bankEncPub, authPriv)
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: build upload init request: %w", err)
	}

	initResp, err := e.sendWithRetry(ctx, initReq)
	if err != nil {
		return nil, err
	}
	parsedInit, err := ebics.ParseUploadInitResponse(initResp)
	if err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}
	if err := checkReport(&parsedInit.Report); err != nil {
		return nil, err
	}

	for seg := 1; seg <= len(init.Segments); seg++ {
		transferReq, err := ebics.BuildUploadTransferRequest(e.Context, parsedInit.TransactionID, seg, len(init.Segments), init.Segments[seg-1], authPriv)
		if err != nil {
			return nil, fmt.Errorf("ebicsengine: build upload transfer request: %w", err)
		}
		transferResp, err := e.sendWithRetry(ctx, transferReq)
		if err != nil {
			return nil, err
		}
		report, err := ebics.ParseUploadTransferResponse(transferResp)
		if err != nil {
			return nil, &SchemaError{Detail: err.Error()}
		}
		if err := checkReport(report); err != nil {
			return nil, err
		}
	}

	return &UploadResult{OrderDataDigest: init.OrderDataDigest}, nil
}

// sendWithRetry posts req and retries, up to maxTxRetries times, on a
// transport error or when the bank's business return code is one of the
// recoverable
// transaction-level codes (a lost Transfer acknowledgement, a replayed
// segment after a network blip).
func (e *Engine) sendWithRetry(ctx context.Context, req []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		resp, err := e.Transport.Send(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryable, code := responseIsRetryable(resp); retryable {
			lastErr = &ProtocolError{Code: string(code)}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// responseIsRetryable peeks at a response's business return code without
// fully parsing the transaction-specific body, so both upload and
// download transfer retries can share this logic.
func responseIsRetryable(doc []byte) (bool, ebics.ReturnCode) {
	report, err := ebics.ParseUnsecuredResponse(doc)
	if err != nil || report == nil {
		return false, ""
	}
	return report.Business.IsRetryableTx(), report.Business
}
