package ebics

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ebicsnexus/internal/codec"
	nexuscrypto "ebicsnexus/internal/crypto"
)

// RequestContext carries the identifiers every EBICS request header
// needs: which host/partner/user is talking, and under which protocol
// version.
type RequestContext struct {
	Version   Version
	HostID    string
	PartnerID string
	UserID    string
}

func pubKeyValueNode(pub *rsa.PublicKey) *codec.Node {
	modulus := base64.StdEncoding.EncodeToString(pub.N.Bytes())
	exponent := base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return &codec.Node{
		Name: "PubKeyValue",
		Children: []*codec.Node{
			{Name: "RSAKeyValue", Children: []*codec.Node{
				{Name: "Modulus", Text: modulus},
				{Name: "Exponent", Text: exponent},
			}},
			{Name: "TimeStamp", Text: ebicsTimestamp()},
		},
	}
}

func ebicsTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// buildUnsecuredOrderData serialises a key-exchange order data document
// (the SignaturePubKeyOrderData / HIARequestOrderData body nested under
// OrderData) and returns it deflated and base64-encoded, ready to embed
// verbatim as an OrderData element's text, per spec.md §4.3's "INI/HIA
// exchange keys in the clear, compressed but unencrypted" note.
func buildUnsecuredOrderData(root *codec.Node) (string, error) {
	b := codec.NewBuilder()
	writeNode(b, root)
	compressed, err := codec.Deflate(b.Bytes())
	if err != nil {
		return "", fmt.Errorf("ebics: compress order data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// BuildINIRequest builds the unsecured ebicsRequest that registers the
// subscriber's A006 signature public key with the bank.
func BuildINIRequest(ctx RequestContext, sigPub *rsa.PublicKey) ([]byte, error) {
	orderDataRoot := &codec.Node{
		Name: "SignaturePubKeyOrderData",
		Children: []*codec.Node{
			{Name: "SignaturePubKeyInfo", Children: []*codec.Node{
				pubKeyValueNode(sigPub),
				{Name: "SignatureVersion", Text: "A006"},
			}},
			{Name: "PartnerID", Text: ctx.PartnerID},
			{Name: "UserID", Text: ctx.UserID},
		},
	}
	orderData, err := buildUnsecuredOrderData(orderDataRoot)
	if err != nil {
		return nil, err
	}
	return buildUnsecuredRequest(ctx, OrderINI, orderData), nil
}

// BuildHIARequest builds the unsecured ebicsRequest that registers the
// subscriber's X002 authentication and E002 encryption public keys.
func BuildHIARequest(ctx RequestContext, authPub, encPub *rsa.PublicKey) ([]byte, error) {
	orderDataRoot := &codec.Node{
		Name: "HIARequestOrderData",
		Children: []*codec.Node{
			{Name: "AuthenticationPubKeyInfo", Children: []*codec.Node{
				pubKeyValueNode(authPub),
				{Name: "AuthenticationVersion", Text: "X002"},
			}},
			{Name: "EncryptionPubKeyInfo", Children: []*codec.Node{
				pubKeyValueNode(encPub),
				{Name: "EncryptionVersion", Text: "E002"},
			}},
			{Name: "PartnerID", Text: ctx.PartnerID},
			{Name: "UserID", Text: ctx.UserID},
		},
	}
	orderData, err := buildUnsecuredOrderData(orderDataRoot)
	if err != nil {
		return nil, err
	}
	return buildUnsecuredRequest(ctx, OrderHIA, orderData), nil
}

func buildUnsecuredRequest(ctx RequestContext, orderType OrderType, orderDataB64 string) []byte {
	b := codec.NewBuilder()
	b.El("ebicsUnsecuredRequest", func() {
		b.Attr("xmlns", ctx.Version.Namespace())
		b.Attr("Version", string(ctx.Version))
		b.Attr("Revision", "1")
		b.El("header", func() {
			b.Attr("authenticate", "true")
			b.El("static", func() {
				b.El("HostID", func() { b.Text(ctx.HostID) })
				b.El("PartnerID", func() { b.Text(ctx.PartnerID) })
				b.El("UserID", func() { b.Text(ctx.UserID) })
				b.El("OrderDetails", func() {
					b.El("OrderType", func() { b.Text(string(orderType)) })
					b.El("OrderAttribute", func() { b.Text("DZNNN") })
				})
				b.El("SecurityMedium", func() { b.Text("0000") })
			})
			b.El("mutable", nil)
		})
		b.El("body", func() {
			b.El("DataTransfer", func() {
				b.El("OrderData", func() { b.Text(orderDataB64) })
			})
		})
	})
	return b.Bytes()
}

// BuildHPBRequest builds the signed ebicsNoPubKeyDigestsRequest asking the
// bank to return its own public keys (order type HPB), signed with the
// subscriber's already-accepted authentication key.
func BuildHPBRequest(ctx RequestContext, authPriv *rsa.PrivateKey) ([]byte, error) {
	b := codec.NewBuilder()
	b.El("ebicsNoPubKeyDigestsRequest", func() {
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
					b.El("OrderType", func() { b.Text(string(OrderHPB)) })
					b.El("OrderAttribute", func() { b.Text("DZHNN") })
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

// BankKeys is the pair of public keys a bank publishes in an HPB
// response.
type BankKeys struct {
	Authentication *rsa.PublicKey
	Encryption     *rsa.PublicKey
}

// FingerprintLetter renders the two-line hash report an operator compares
// against the bank's printed key letter before trusting a freshly fetched
// HPB response — the manual out-of-band verification step spec.md §4.3's
// Open Question ("verify before trust") resolves in favour of, rather
// than trusting HPB on first use unconditionally.
func (k BankKeys) FingerprintLetter() (authHex, encHex string) {
	return nexuscrypto.FingerprintHex(k.Authentication), nexuscrypto.FingerprintHex(k.Encryption)
}

// ParseHPBResponse decrypts and parses an HPB response envelope,
// returning the bank's authentication and encryption public keys. When
// expectedBankAuthPub is non-nil (the bank's auth key was already
// trusted in a prior session), the envelope's own X002 signature is
// verified against it first; on a genuinely first HPB fetch, pass nil
// and rely on FingerprintLetter for out-of-band confirmation instead of
// trusting the response outright.
func ParseHPBResponse(doc []byte, expectedBankAuthPub *rsa.PublicKey, decryptCandidates ...*rsa.PrivateKey) (*BankKeys, *ReturnCodeReport, error) {
	if expectedBankAuthPub != nil {
		if err := VerifyEnvelope(doc, expectedBankAuthPub); err != nil {
			return nil, nil, fmt.Errorf("ebics: parse hpb response: %w", err)
		}
	}

	destructor, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("ebics: parse hpb response: %w", err)
	}

	report, err := extractReturnCodeReport(destructor)
	if err != nil {
		return nil, nil, err
	}
	if !report.OK() {
		return nil, report, nil
	}

	body, err := destructor.One("body")
	if err != nil {
		return nil, report, err
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return nil, report, err
	}
	dataEncryptionInfo, err := dataTransfer.One("DataEncryptionInfo")
	if err != nil {
		return nil, report, err
	}
	transactionKeyNode, err := dataEncryptionInfo.One("TransactionKey")
	if err != nil {
		return nil, report, err
	}

	orderDataNode, err := dataTransfer.One("OrderData")
	if err != nil {
		return nil, report, err
	}

	cipher, err := base64.StdEncoding.DecodeString(orderDataNode.Text())
	if err != nil {
		return nil, report, fmt.Errorf("ebics: parse hpb response: bad order data base64: %w", err)
	}
	transactionKey, err := base64.StdEncoding.DecodeString(transactionKeyNode.Text())
	if err != nil {
		return nil, report, fmt.Errorf("ebics: parse hpb response: bad transaction key base64: %w", err)
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
		if plain, derr := nexuscrypto.DecryptE002(env, priv); derr == nil {
			compressed = plain
			break
		}
	}
	if compressed == nil {
		return nil, report, fmt.Errorf("ebics: parse hpb response: no candidate key could decrypt the order data")
	}
	plain, err := codec.Inflate(compressed)
	if err != nil {
		return nil, report, fmt.Errorf("ebics: parse hpb response: %w", err)
	}

	inner, err := codec.NewDestructor(plain)
	if err != nil {
		return nil, report, fmt.Errorf("ebics: parse hpb response: bad HPBResponseOrderData: %w", err)
	}
	authInfo, err := inner.One("AuthenticationPubKeyInfo")
	if err != nil {
		return nil, report, err
	}
	encInfo, err := inner.One("EncryptionPubKeyInfo")
	if err != nil {
		return nil, report, err
	}
	authPub, err := parsePubKeyValue(authInfo)
	if err != nil {
		return nil, report, err
	}
	encPub, err := parsePubKeyValue(encInfo)
	if err != nil {
		return nil, report, err
	}

	return &BankKeys{Authentication: authPub, Encryption: encPub}, report, nil
}

func parsePubKeyValue(parent *codec.Destructor) (*rsa.PublicKey, error) {
	pkv, err := parent.One("PubKeyValue")
	if err != nil {
		return nil, err
	}
	rsaKV, err := pkv.One("RSAKeyValue")
	if err != nil {
		return nil, err
	}
	modNode, err := rsaKV.One("Modulus")
	if err != nil {
		return nil, err
	}
	expNode, err := rsaKV.One("Exponent")
	if err != nil {
		return nil, err
	}
	modBytes, err := base64.StdEncoding.DecodeString(modNode.Text())
	if err != nil {
		return nil, fmt.Errorf("ebics: parse pub key value: bad modulus base64: %w", err)
	}
	expBytes, err := base64.StdEncoding.DecodeString(expNode.Text())
	if err != nil {
		return nil, fmt.Errorf("ebics: parse pub key value: bad exponent base64: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modBytes),
		E: int(new(big.Int).SetBytes(expBytes).Int64()),
	}, nil
}

// extractReturnCodeReport pulls the technical and business return codes
// and report text out of a response header/body. The technical code in
// header/mutable/ReturnCode is required; the business code in the body
// may be absent (some unsecured responses only carry the technical code).
func extractReturnCodeReport(d *codec.Destructor) (*ReturnCodeReport, error) {
	header, err := d.One("header")
	if err != nil {
		return nil, err
	}
	mutable, err := header.One("mutable")
	if err != nil {
		return nil, err
	}
	techNode, err := mutable.One("ReturnCode")
	if err != nil {
		return nil, err
	}
	technical, err := ParseReturnCode(techNode.Text())
	if err != nil {
		return nil, fmt.Errorf("ebics: response: %w", err)
	}

	report := &ReturnCodeReport{Technical: technical}

	if reportText, ok, _ := mutable.Opt("ReportText"); ok {
		report.Text = reportText.Text()
	}

	body, err := d.One("body")
	if err == nil {
		if retCode, ok, _ := body.Opt("ReturnCode"); ok {
			business, err := ParseReturnCode(retCode.Text())
			if err == nil {
				report.Business = business
			}
		}
	}
	if report.Business == "" {
		report.Business = report.Technical
	}

	return report, nil
}

// ParseUnsecuredResponse reads the return-code report out of an
// ebicsUnsecuredRequest's response (used for INI and HIA, neither of
// which carries order data back from the bank).
func ParseUnsecuredResponse(doc []byte) (*ReturnCodeReport, error) {
	d, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, fmt.Errorf("ebics: parse unsecured response: %w", err)
	}
	return extractReturnCodeReport(d)
}

func nonceHex() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return strings.ToUpper(hex.EncodeToString(buf[:]))
}
