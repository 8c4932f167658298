package ebicsengine

import (
	"context"
	"crypto/rsa"
	"fmt"

	"ebicsnexus/internal/ebics"
)

// Engine drives one subscriber's EBICS transactions against a single
// bank endpoint, wrapping the wire-level builders in internal/ebics with
// the HTTP round trips and return-code checks each transaction needs.
type Engine struct {
	Context   ebics.RequestContext
	Transport Transport
}

// NewEngine builds an Engine for one subscriber/bank pair.
func NewEngine(reqCtx ebics.RequestContext, transport Transport) *Engine {
	return &Engine{Context: reqCtx, Transport: transport}
}

func checkReport(report *ebics.ReturnCodeReport) error {
	if report == nil {
		return &SchemaError{Detail: "response carried no return-code report"}
	}
	if !report.OK() {
		return &ProtocolError{Code: string(report.Business), Report: report.Text}
	}
	return nil
}

// SubmitINI registers the subscriber's A006 signature public key with
// the bank (spec.md §4.4's FRESH -> INI_SENT transition).
func (e *Engine) SubmitINI(ctx context.Context, sigPub *rsa.PublicKey) error {
	req, err := ebics.BuildINIRequest(e.Context, sigPub)
	if err != nil {
		return fmt.Errorf("ebicsengine: build INI request: %w", err)
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

// SubmitHIA registers the subscriber's X002/E002 keys with the bank
// (spec.md §4.4's INI_SENT -> HIA_SENT transition).
func (e *Engine) SubmitHIA(ctx context.Context, authPub, encPub *rsa.PublicKey) error {
	req, err := ebics.BuildHIARequest(e.Context, authPub, encPub)
	if err != nil {
		return fmt.Errorf("ebicsengine: build HIA request: %w", err)
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

// FetchHPB retrieves the bank's public keys (spec.md §4.4's KEYS_LETTER_PRINTED ->
// HPB_RECEIVED transition). When expectedBankAuthPub is non-nil (a
// refresh of already-trusted keys), the response signature is verified
// against it before anything else; on a true first fetch, pass nil and
// have the caller compare BankKeys.FingerprintLetter() against the
// bank's printed key letter before persisting the result — this gateway
// never trusts a first HPB response on its own signature alone.
func (e *Engine) FetchHPB(ctx context.Context, authPriv *rsa.PrivateKey, expectedBankAuthPub *rsa.PublicKey, decryptCandidates ...*rsa.PrivateKey) (*ebics.BankKeys, error) {
	req, err := ebics.BuildHPBRequest(e.Context, authPriv)
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: build HPB request: %w", err)
	}
	resp, err := e.Transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	keys, report, err := ebics.ParseHPBResponse(resp, expectedBankAuthPub, decryptCandidates...)
	if err != nil {
		if expectedBankAuthPub != nil {
			return nil, &CryptoError{Detail: err.Error()}
		}
		return nil, &SchemaError{Detail: err.Error()}
	}
	if err := checkReport(report); err != nil {
		return nil, err
	}
	return keys, nil
}
