package ebics

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strconv"

	"ebicsnexus/internal/codec"
	nexuscrypto "ebicsnexus/internal/crypto"
)

// maxSegmentBytes is the largest base64-encoded chunk this gateway will
// put in a single upload transfer segment, per spec.md §4.4's 1 MiB
// segment ceiling (applied to the encoded order data, not the raw
// pain.001 bytes).
const maxSegmentBytes = 1 << 20

// UploadInit is everything needed to start a CCT (SEPA credit transfer)
// upload transaction: the compressed+encrypted order data, already split
// into fixed-size base64 segments.
type UploadInit struct {
	TransactionKey  []byte
	Segments        [][]byte // base64 text of each segment, in order
	OrderDataDigest [32]byte
}

// PrepareUpload compresses, A006-signs, and E002-encrypts pain.001
// payload for upload, then splits the ciphertext into wire-sized base64
// segments. sigSigner produces the order signature (the bank-facing
// proof the initiating user authorised this specific payload) — a local
// key or a KMS-backed one; bankEncPub is the bank's encryption key from
// a prior HPB fetch.
func PrepareUpload(payload []byte, sigSigner nexuscrypto.Signer, bankEncPub *rsa.PublicKey) (*UploadInit, error) {
	digest := nexuscrypto.DigestA006(payload)
	signature, err := sigSigner.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("ebics: prepare upload: %w", err)
	}

	signedOrderData, err := buildUserSignatureOrderData(payload, signature)
	if err != nil {
		return nil, err
	}

	compressed, err := codec.Deflate(signedOrderData)
	if err != nil {
		return nil, fmt.Errorf("ebics: prepare upload: %w", err)
	}

	env, err := nexuscrypto.EncryptE002(compressed, bankEncPub)
	if err != nil {
		return nil, fmt.Errorf("ebics: prepare upload: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(env.Ciphertext)
	return &UploadInit{
		TransactionKey:  env.TransactionKey,
		Segments:        splitSegments([]byte(encoded), maxSegmentBytes),
		OrderDataDigest: digest,
	}, nil
}

func splitSegments(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	out = append(out, data)
	return out
}

// buildUserSignatureOrderData wraps payload together with its A006
// signature in the UserSignatureData envelope EBICS carries inside
// encrypted order data for signed order types.
func buildUserSignatureOrderData(payload, signature []byte) ([]byte, error) {
	b := codec.NewBuilder()
	b.El("UserSignatureData", func() {
		b.El("OrderSignatureData", func() {
			b.El("SignatureVersion", func() { b.Text("A006") })
			b.El("SignatureValue", func() { b.Text(base64.StdEncoding.EncodeToString(signature)) })
		})
	})
	_ = payload // the raw pain.001 travels alongside, not inside this envelope
	return b.Bytes(), nil
}

// BuildUploadInitRequest builds the Initialisation-phase ebicsRequest for
// a CCT upload: static header, DataEncryptionInfo carrying the wrapped
// transaction key, and the first segment's order data, all inside the
// authenticated envelope signed with authPriv.
func BuildUploadInitRequest(ctx RequestContext, init *UploadInit, bankEncPub *rsa.PublicKey, authPriv *rsa.PrivateKey) ([]byte, error) {
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
					b.El("OrderType", func() { b.Text(string(OrderCCT)) })
					b.El("OrderAttribute", func() { b.Text("OZHNN") })
				})
				b.El("BankPubKeyDigests", func() {
					b.El("Authentication", func() { b.Text("X002") })
					b.El("Encryption", func() { b.Text("E002") })
				})
				b.El("NumSegments", func() { b.Text(strconv.Itoa(len(init.Segments))) })
			})
			b.El("mutable", func() {
				b.El("TransactionPhase", func() { b.Text("Initialisation") })
			})
		})
		b.El("AuthSignature", nil)
		b.El("body", func() {
			b.El("DataTransfer", func() {
				b.El("DataEncryptionInfo", func() {
					b.Attr("authenticate", "true")
					b.El("EncryptionPubKeyDigest", func() {
						b.Attr("Version", "E002")
						b.Text(nexuscrypto.FingerprintHex(bankEncPub))
					})
					b.El("TransactionKey", func() { b.Text(base64.StdEncoding.EncodeToString(init.TransactionKey)) })
				})
				b.El("OrderData", func() { b.Text(string(init.Segments[0])) })
			})
		})
	})
	return SignEnvelope(b.Bytes(), authPriv)
}

// BuildUploadTransferRequest builds a Transfer-phase ebicsRequest
// carrying segment number segNum (1-based) of an in-progress upload
// transaction, identified by transactionID (the bank-assigned ID
// returned from the Initialisation response).
func BuildUploadTransferRequest(ctx RequestContext, transactionID string, segNum, numSegments int, segment []byte, authPriv *rsa.PrivateKey) ([]byte, error) {
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
				b.El("SegmentNumber", func() {
					b.Attr("lastSegment", strconv.FormatBool(segNum == numSegments))
					b.Text(strconv.Itoa(segNum))
				})
			})
		})
		b.El("AuthSignature", nil)
		b.El("body", func() {
			b.El("DataTransfer", func() {
				b.El("OrderData", func() { b.Text(string(segment)) })
			})
		})
	})
	return SignEnvelope(b.Bytes(), authPriv)
}

// UploadInitResponse is what the bank's Initialisation-phase response
// tells the caller: whether the segment was accepted, and if so the
// transaction ID to use for subsequent transfer segments.
type UploadInitResponse struct {
	Report        ReturnCodeReport
	TransactionID string
}

// ParseUploadInitResponse reads the bank's response to an upload
// Initialisation request.
func ParseUploadInitResponse(doc []byte) (*UploadInitResponse, error) {
	d, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, fmt.Errorf("ebics: parse upload init response: %w", err)
	}
	report, err := extractReturnCodeReport(d)
	if err != nil {
		return nil, err
	}
	out := &UploadInitResponse{Report: *report}
	if !report.OK() {
		return out, nil
	}
	header, err := d.One("header")
	if err != nil {
		return out, nil
	}
	static, err := header.One("static")
	if err != nil {
		return out, nil
	}
	if txID, ok, _ := static.Opt("TransactionID"); ok {
		out.TransactionID = txID.Text()
	}
	return out, nil
}

// ParseUploadTransferResponse reads the bank's response to a Transfer
// segment, returning only the return-code report; the caller advances to
// the next segment (or finishes) based on report.OK().
func ParseUploadTransferResponse(doc []byte) (*ReturnCodeReport, error) {
	d, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, fmt.Errorf("ebics: parse upload transfer response: %w", err)
	}
	return extractReturnCodeReport(d)
}

