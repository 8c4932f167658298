package iso20022

import (
	"fmt"
	"strings"
	"time"

	"ebicsnexus/internal/codec"
	"ebicsnexus/internal/payment"
)

// decimalAmount renders a.Value.Frac as a bare ISO 20022 decimal string
// ("12.34"), without the "CUR:" prefix payment.Amount.String carries.
func decimalAmount(a payment.Amount) string {
	if a.Frac == 0 {
		return fmt.Sprintf("%d", a.Value)
	}
	frac := fmt.Sprintf("%08d", a.Frac)
	frac = strings.TrimRight(frac, "0")
	return fmt.Sprintf("%d.%s", a.Value, frac)
}

// CreditTransferInstruction is one pain.001 CdtTrfTxInf: a single credit
// transfer within an initiation message.
type CreditTransferInstruction struct {
	EndToEndID  string
	Amount      payment.Amount
	CreditorIBAN string
	CreditorBIC  string
	CreditorName string
	Subject      string
}

// CreditTransferInitiation is the envelope of a pain.001
// CstmrCdtTrfInitn document; this gateway always emits exactly one
// PmtInf block with exactly one CdtTrfTxInf (spec.md §4.7's initiated
// payments are built and uploaded one at a time).
type CreditTransferInitiation struct {
	MessageID      string
	PaymentInfoID  string
	CreationDate   time.Time
	RequestedDate  time.Time
	DebtorIBAN     string
	DebtorBIC      string
	DebtorName     string
	Instruction    CreditTransferInstruction
}

// BuildCreditTransferInitiation renders a pain.001.001.09 document for a
// single credit transfer.
func BuildCreditTransferInitiation(doc CreditTransferInitiation) ([]byte, error) {
	if doc.Instruction.Amount.Currency == "" {
		return nil, fmt.Errorf("iso20022: build pain.001: instruction has no currency")
	}

	b := codec.NewBuilder()
	b.El("Document", func() {
		b.Attr("xmlns", "urn:iso:std:iso:20022:tech:xsd:pain.001.001.09")
		b.El("CstmrCdtTrfInitn", func() {
			b.El("GrpHdr", func() {
				b.El("MsgId", func() { b.Text(doc.MessageID) })
				b.El("CreDtTm", func() { b.Text(doc.CreationDate.UTC().Format(time.RFC3339)) })
				b.El("NbOfTxs", func() { b.Text("1") })
				b.El("CtrlSum", func() { b.Text(decimalAmount(doc.Instruction.Amount)) })
				b.El("InitgPty", func() {
					b.El("Nm", func() { b.Text(doc.DebtorName) })
				})
			})
			b.El("PmtInf", func() {
				b.El("PmtInfId", func() { b.Text(doc.PaymentInfoID) })
				b.El("PmtMtd", func() { b.Text("TRF") })
				b.El("NbOfTxs", func() { b.Text("1") })
				b.El("CtrlSum", func() { b.Text(decimalAmount(doc.Instruction.Amount)) })
				b.El("PmtTpInf", func() {
					b.El("SvcLvl", func() {
						b.El("Cd", func() { b.Text("SEPA") })
					})
				})
				b.El("ReqdExctnDt", func() {
					b.El("Dt", func() { b.Text(doc.RequestedDate.Format("2006-01-02")) })
				})
				b.El("Dbtr", func() {
					b.El("Nm", func() { b.Text(doc.DebtorName) })
				})
				b.El("DbtrAcct", func() {
					b.El("Id", func() {
						b.El("IBAN", func() { b.Text(doc.DebtorIBAN) })
					})
				})
				if doc.DebtorBIC != "" {
					b.El("DbtrAgt", func() {
						b.El("FinInstnId", func() {
							b.El("BICFI", func() { b.Text(doc.DebtorBIC) })
						})
					})
				}
				b.El("ChrgBr", func() { b.Text("SLEV") })
				b.El("CdtTrfTxInf", func() {
					b.El("PmtId", func() {
						b.El("EndToEndId", func() { b.Text(doc.Instruction.EndToEndID) })
					})
					b.El("Amt", func() {
						b.El("InstdAmt", func() {
							b.Attr("Ccy", doc.Instruction.Amount.Currency)
							b.Text(decimalAmount(doc.Instruction.Amount))
						})
					})
					if doc.Instruction.CreditorBIC != "" {
						b.El("CdtrAgt", func() {
							b.El("FinInstnId", func() {
								b.El("BICFI", func() { b.Text(doc.Instruction.CreditorBIC) })
							})
						})
					}
					b.El("Cdtr", func() {
						b.El("Nm", func() { b.Text(doc.Instruction.CreditorName) })
					})
					b.El("CdtrAcct", func() {
						b.El("Id", func() {
							b.El("IBAN", func() { b.Text(doc.Instruction.CreditorIBAN) })
						})
					})
					b.El("RmtInf", func() {
						b.El("Ustrd", func() { b.Text(doc.Instruction.Subject) })
					})
				})
			})
		})
	})
	return b.Bytes(), nil
}
