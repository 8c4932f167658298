package ebics

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strconv"

	"ebicsnexus/internal/codec"
	nexuscrypto "ebicsnexus/internal/crypto"
)

// BuildDownloadInitRequest builds the Initialisation-phase ebicsRequest
// for a download order (C52/C53/C54), requesting statements for the
// half-open date range [from, to) in ISO calendar-date form.
func BuildDownloadInitRequest(ctx RequestContext, orderType OrderType, from, to string, authPriv *rsa.PrivateKey) ([]byte, error) {
	b := codec.NewBuilder()
	b.El("ebicsRequest", func() {
		b.Attr("xmlns", ctx.Version.Namespace())
		b.Attr("Version", string(ctx.Version))
		b.Attr("Revision", "1")
		b.El("header", func() {
			b.Attr("authenticate", "true")
			b.El("static", func() {
				b.El("HostID", func() { b.Text(ctx.HostID) })
				b.El("Nonce", func() { b.Text(nonceHex()) })
				b.El("Timestamp", func() { b.Text(ebicsTimestamp()) })
				b.El("PartnerID", func() { b.Text(ctx.PartnerID) })
				b.El("UserID", func() { b.Text(ctx.UserID) })
				b.El("OrderDetails", func() {
					b.El("OrderType", func() { b.Text(string(orderType)) })
					b.El("OrderAttribute", func() { b.Text("DZHNN") })
					if from != "" || to != "" {
						b.El("DateRange", func() {
							b.El("Start", func() { b.Text(from) })
							b.El("End", func() { b.Text(to) })
						})
					}
				})
				b.El("BankPubKeyDigests", func() {
					b.El("Authentication", func() { b.Text("X002") })
					b.El("Encryption", func() { b.Text("E002") })
				})
				b.El("SecurityMedium", func() { b.Text("0000") })
			})
			b.El("mutable", func() {
				b.El("TransactionPhase", func() { b.Text("Initialisation") })
			})
		})
		b.El("AuthSignature", nil)
		b.El("body", nil)
	})
	return SignEnvelope(b.Bytes(), authPriv)
}

// BuildDownloadTransferRequest asks for segment segNum (1-based) of an
// in-progress download transaction.
func BuildDownloadTransferRequest(ctx RequestContext, transactionID string, segNum int, authPriv *rsa.PrivateKey) ([]byte, error) {
	b := codec.NewBuilder()
	b.El("ebicsRequest", func() {
		b.Attr("xmlns", ctx.Version.Namespace())
		b.Attr("Version", string(ctx.Version))
		b.Attr("Revision", "1")
		b.El("header", func() {
			b.Attr("authenticate", "true")
			b.El("static", func() {
				b.El("HostID", func() { b.Text(ctx.HostID) })
				b.El("TransactionID", func() { b.Text(transactionID) })
			})
			b.El("mutable", func() {
				b.El("TransactionPhase", func() { b.Text("Transfer") })
				b.El("SegmentNumber", func() { b.Text(strconv.Itoa(segNum)) })
			})
		})
		b.El("AuthSignature", nil)
		b.El("body", nil)
	})
	return SignEnvelope(b.Bytes(), authPriv)
}

// BuildDownloadReceiptRequest closes out a download transaction by
// telling the bank whether the assembled document was usable
// (receiptCode "0" for success, "1" for failure per EBICS convention).
func BuildDownloadReceiptRequest(ctx RequestContext, transactionID, receiptCode string, authPriv *rsa.PrivateKey) ([]byte, error) {
	b := codec.NewBuilder()
	b.El("ebicsRequest", func() {
		b.Attr("xmlns", ctx.Version.Namespace())
		b.Attr("Version", string(ctx.Version))
		b.Attr("Revision", "1")
		b.El("header", func() {
			b.Attr("authenticate", "true")
			b.El("static", func() {
				b.El("HostID", func() { b.Text(ctx.HostID) })
				b.El("TransactionID", func() { b.Text(transactionID) })
			})
			b.El("mutable", func() {
				b.El("TransactionPhase", func() { b.Text("Receipt") })
			})
		})
		b.El("AuthSignature", nil)
		b.El("body", func() {
			b.El("TransferReceipt", func() {
				b.Attr("authenticate", "true")
				b.El("ReceiptCode", func() { b.Text(receiptCode) })
			})
		})
	})
	return SignEnvelope(b.Bytes(), authPriv)
}

// DownloadInitResult is the outcome of a download Initialisation
// response: the return code, the transaction ID and segment count to
// drive the Transfer phase with, and the first segment's ciphertext.
type DownloadInitResult struct {
	Report          ReturnCodeReport
	TransactionID   string
	NumSegments     int
	TransactionKey  []byte
	FirstSegmentB64 string
}

// ParseDownloadInitResponse reads a download Initialisation response.
func ParseDownloadInitResponse(doc []byte) (*DownloadInitResult, error) {
	d, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, fmt.Errorf("ebics: parse download init response: %w", err)
	}
	report, err := extractReturnCodeReport(d)
	if err != nil {
		return nil, err
	}
	out := &DownloadInitResult{Report: *report}
	if !report.OK() {
		return out, nil
	}

	header, err := d.One("header")
	if err != nil {
		return out, nil
	}
	static, err := header.One("static")
	if err == nil {
		if txID, ok, _ := static.Opt("TransactionID"); ok {
			out.TransactionID = txID.Text()
		}
		if numSeg, ok, _ := static.Opt("NumSegments"); ok {
			n, _ := strconv.Atoi(numSeg.Text())
			out.NumSegments = n
		}
	}

	body, err := d.One("body")
	if err != nil {
		return out, nil
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return out, nil
	}
	if info, ok, _ := dataTransfer.Opt("DataEncryptionInfo"); ok {
		if txKey, ok2, _ := info.Opt("TransactionKey"); ok2 {
			raw, err := base64.StdEncoding.DecodeString(txKey.Text())
			if err == nil {
				out.TransactionKey = raw
			}
		}
	}
	if orderData, ok, _ := dataTransfer.Opt("OrderData"); ok {
		out.FirstSegmentB64 = orderData.Text()
	}

	return out, nil
}

// ParseDownloadTransferResponse reads a Transfer-phase download response,
// returning its segment text alongside the return-code report.
func ParseDownloadTransferResponse(doc []byte) (*ReturnCodeReport, string, error) {
	d, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, "", fmt.Errorf("ebics: parse download transfer response: %w", err)
	}
	report, err := extractReturnCodeReport(d)
	if err != nil {
		return nil, "", err
	}
	if !report.OK() {
		return report, "", nil
	}
	body, err := d.One("body")
	if err != nil {
		return report, "", nil
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return report, "", nil
	}
	orderData, ok, _ := dataTransfer.Opt("OrderData")
	if !ok {
		return report, "", nil
	}
	return report, orderData.Text(), nil
}

// AssembleDownload concatenates every segment's base64 ciphertext, then
// E002-decrypts and inflates the result into the plaintext ISO 20022
// document (camt.052/053/054), selecting whichever of decryptCandidates
// matches the envelope's recipient.
func AssembleDownload(transactionKey []byte, segmentsB64 []string, decryptCandidates ...*rsa.PrivateKey) ([]byte, error) {
	var cipher []byte
	for _, seg := range segmentsB64 {
		raw, err := base64.StdEncoding.DecodeString(seg)
		if err != nil {
			return nil, fmt.Errorf("ebics: assemble download: bad segment base64: %w", err)
		}
		cipher = append(cipher, raw...)
	}

	var compressed []byte
	for _, priv := range decryptCandidates {
		if priv == nil {
			continue
		}
		env := &nexuscrypto.Envelope{
			TransactionKey:  transactionKey,
			Ciphertext:      cipher,
			RecipientDigest: nexuscrypto.Fingerprint(&priv.PublicKey),
		}
		if plain, err := nexuscrypto.DecryptE002(env, priv); err == nil {
			compressed = plain
			break
		}
	}
	if compressed == nil {
		return nil, fmt.Errorf("ebics: assemble download: no candidate key could decrypt the order data")
	}

	plain, err := codec.Inflate(compressed)
	if err != nil {
		return nil, fmt.Errorf("ebics: assemble download: %w", err)
	}
	return plain, nil
}
