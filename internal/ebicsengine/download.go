package ebicsengine

import (
	"context"
	"crypto/rsa"
	"fmt"

	"ebicsnexus/internal/ebics"
)

// receiptOK and receiptFailed are the two EBICS receipt codes a
// downloader reports back to the bank once it has (or has not)
// successfully assembled the downloaded document.
const (
	receiptOK     = "0"
	receiptFailed = "1"
)

// DownloadStatement runs a full C52/C53/C54 download transaction:
// Initialisation, every Transfer segment, assembly/decryption, and the
// closing Receipt acknowledging success or failure to the bank. from/to
// are ISO calendar dates ("" for "no restriction" on either end).
func (e *Engine) DownloadStatement(ctx context.Context, orderType ebics.OrderType, from, to string, authPriv *rsa.PrivateKey, decryptCandidates ...*rsa.PrivateKey) ([]byte, error) {
	initReq, err := ebics.BuildDownloadInitRequest(e.Context, orderType, from, to, authPriv)
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: build download init request: %w", err)
	}
	initResp, err := e.sendWithRetry(ctx, initReq)
	if err != nil {
		return nil, err
	}
	init, err := ebics.ParseDownloadInitResponse(initResp)
	if err != nil {
		return nil, &SchemaError{Detail: err.Error()}
	}
	if init.Report.Business == ebics.EBICS_NO_DOWNLOAD_DATA_AVAILABLE {
		return nil, nil
	}
	if err := checkReport(&init.Report); err != nil {
		return nil, err
	}

	segments := []string{init.FirstSegmentB64}
	for seg := 2; seg <= init.NumSegments; seg++ {
		transferReq, err := ebics.BuildDownloadTransferRequest(e.Context, init.TransactionID, seg, authPriv)
		if err != nil {
			return nil, fmt.Errorf("ebicsengine: build download transfer request: %w", err)
		}
		transferResp, err := e.sendWithRetry(ctx, transferReq)
		if err != nil {
			return nil, err
		}
		report, segmentB64, err := ebics.ParseDownloadTransferResponse(transferResp)
		if err != nil {
			return nil, &SchemaError{Detail: err.Error()}
		}
		if err := checkReport(report); err != nil {
			e.sendReceipt(ctx, init.TransactionID, receiptFailed, authPriv)
			return nil, err
		}
		segments = append(segments, segmentB64)
	}

	plain, err := ebics.AssembleDownload(init.TransactionKey, segments, decryptCandidates...)
	if err != nil {
		e.sendReceipt(ctx, init.TransactionID, receiptFailed, authPriv)
		return nil, &CryptoError{Detail: err.Error()}
	}

	if err := e.sendReceipt(ctx, init.TransactionID, receiptOK, authPriv); err != nil {
		return nil, err
	}
	return plain, nil
}

func (e *Engine) sendReceipt(ctx context.Context, transactionID, code string, authPriv *rsa.PrivateKey) error {
	req, err := ebics.BuildDownloadReceiptRequest(e.Context, transactionID, code, authPriv)
	if err != nil {
		return fmt.Errorf("ebicsengine: build receipt request: %w", err)
	}
	resp, err := e.Transport.Send(ctx, req)
	if err != nil {
		return err
	}
	report, err := ebics.ParseUnsecuredResponse(resp)
	if err != nil {
		return &SchemaError{Detail: err.Error()}
	}
	return checkReport(report)
}
