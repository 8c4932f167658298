// Package iso20022 extracts flat transaction records out of ISO 20022
// camt.052/053/054 statement documents, the payload format EBICS C52/C53/
// C54 downloads carry.
package iso20022

import (
	"fmt"
	"time"

	"ebicsnexus/internal/codec"
	"ebicsnexus/internal/payment"
)

// CreditDebit is the ISO 20022 CdtDbtInd enumeration.
type CreditDebit string

const (
	Credit CreditDebit = "CRDT"
	Debit  CreditDebit = "DBIT"
)

// EntryStatus is the ISO 20022 entry status enumeration.
type EntryStatus string

const (
	Booked  EntryStatus = "BOOK"
	Pending EntryStatus = "PDNG"
	Info    EntryStatus = "INFO"
)

// Party describes one side (debtor or creditor) of a transaction, along
// with its account and agent, all optional per the invariant that only
// the statement envelope itself is required.
type Party struct {
	Name          string
	IBAN          string
	AgentBIC      string
	UltimateName  string
}

// CurrencyExchange carries the FX details ISO 20022 attaches to a
// transaction when the instructed, counter-value, or settlement amount
// is quoted in a different currency than the account.
type CurrencyExchange struct {
	SourceCurrency string
	TargetCurrency string
	ExchangeRate   string
}

// Transaction is one flattened TxDtls record, nested under an Entry.
type Transaction struct {
	Debtor                Party
	Creditor              Party
	InstructedAmount      *payment.Amount
	CounterValueAmount    *payment.Amount
	InterBankSettledAmount *payment.Amount
	Exchange              *CurrencyExchange
	EndToEndID            string
	PaymentInformationID  string
	MessageID             string
	RemittanceInformation string
	ReturnReason          string
}

// Entry is one flattened Ntry element, with all of its TxDtls children
// (there may be zero, one, or many — a batched entry fans out into
// several Transactions sharing the same envelope fields).
type Entry struct {
	Amount                   payment.Amount
	CreditDebit              CreditDebit
	Status                   EntryStatus
	BankTransactionCode      string
	ValueDate                time.Time
	BookingDate               time.Time
	AccountServicerReference string
	Transactions             []Transaction
}

// ParseStatement extracts every Ntry in a camt.052/053/054 document,
// flattening each entry's batch transactions into Entry.Transactions.
// Only the required envelope elements (entry amount, credit/debit
// indicator, status) cause a hard failure; everything else is read
// best-effort.
func ParseStatement(doc []byte) ([]Entry, error) {
	d, err := camtDestructor(doc)
	if err != nil {
		return nil, err
	}

	stmts := d.Each("Stmt")
	if len(stmts) == 0 {
		stmts = d.Each("Rpt") // camt.052 uses Rpt rather than Stmt
	}
	if len(stmts) == 0 {
		stmts = d.Each("Ntfctn") // camt.054 uses Ntfctn rather than Stmt
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("iso20022: no Stmt, Rpt or Ntfctn element in document")
	}

	var out []Entry
	for _, stmt := range stmts {
		for _, entryNode := range stmt.Each("Ntry") {
			entry, err := parseEntry(entryNode)
			if err != nil {
				return nil, err
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// camtDestructor locates the document's innermost message body
// (BkToCstmrStmt / BkToCstmrAcctRpt / BkToCstmrDbtCdtNtfctn), tolerating
// whichever of the three camt root elements wraps it.
func camtDestructor(doc []byte) (*codec.Destructor, error) {
	root, err := codec.NewDestructor(doc)
	if err != nil {
		return nil, fmt.Errorf("iso20022: %w", err)
	}
	for _, tag := range []string{"BkToCstmrStmt", "BkToCstmrAcctRpt", "BkToCstmrDbtCdtNtfctn"} {
		if body, ok, _ := root.Opt(tag); ok {
			return body, nil
		}
	}
	return nil, fmt.Errorf("iso20022: unrecognised camt document root")
}

func parseEntry(n *codec.Destructor) (Entry, error) {
	var e Entry

	amtNode, err := n.One("Amt")
	if err != nil {
		return e, fmt.Errorf("iso20022: entry: %w", err)
	}
	ccy, _ := amtNode.Attr("Ccy")
	amt, err := payment.ParseAmount(ccy + ":" + amtNode.Text())
	if err != nil {
		return e, fmt.Errorf("iso20022: entry: bad Amt: %w", err)
	}
	e.Amount = amt

	cdNode, err := n.One("CdtDbtInd")
	if err != nil {
		return e, fmt.Errorf("iso20022: entry: %w", err)
	}
	e.CreditDebit = CreditDebit(cdNode.Text())

	stsNode, err := n.One("Sts")
	if err != nil {
		return e, fmt.Errorf("iso20022: entry: %w", err)
	}
	// Sts may itself be a container (<Sts><Cd>BOOK</Cd></Sts>) in newer
	// camt versions, or a plain leaf in older ones; try both.
	if code, ok, _ := stsNode.Opt("Cd"); ok {
		e.Status = EntryStatus(code.Text())
	} else {
		e.Status = EntryStatus(stsNode.Text())
	}

	if btc, ok, _ := n.Opt("BkTxCd"); ok {
		e.BankTransactionCode = extractBankTransactionCode(btc)
	}
	if valDt, ok, _ := n.Opt("ValDt"); ok {
		e.ValueDate = optionalDate(valDt)
	}
	if bookDt, ok, _ := n.Opt("BookgDt"); ok {
		e.BookingDate = optionalDate(bookDt)
	}
	if ref, ok, _ := n.Opt("AcctSvcrRef"); ok {
		e.AccountServicerReference = ref.Text()
	}

	if details, ok, _ := n.Opt("NtryDtls"); ok {
		for _, txNode := range details.Each("TxDtls") {
			tx, err := parseTransaction(txNode)
			if err != nil {
				return e, err
			}
			e.Transactions = append(e.Transactions, tx)
		}
	}

	return e, nil
}

// extractBankTransactionCode prefers the ISO proprietary code if present,
// falling back to the domain/family/subfamily structured code.
func extractBankTransactionCode(btc *codec.Destructor) string {
	if prtry, ok, _ := btc.Opt("Prtry"); ok {
		if code, ok2, _ := prtry.Opt("Cd"); ok2 {
			return code.Text()
		}
	}
	if domn, ok, _ := btc.Opt("Domn"); ok {
		code := domn.Text()
		if cd, ok2, _ := domn.Opt("Cd"); ok2 {
			code = cd.Text()
		}
		return code
	}
	return ""
}

// optionalDate reads whichever of Dt/DtTm children is present, returning
// the zero time if neither parses.
func optionalDate(n *codec.Destructor) time.Time {
	if dt, ok, _ := n.Opt("DtTm"); ok {
		if t, err := dt.DateTime(); err == nil {
			return t
		}
	}
	if dt, ok, _ := n.Opt("Dt"); ok {
		if t, err := dt.Date(); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseTransaction(n *codec.Destructor) (Transaction, error) {
	var tx Transaction

	if refs, ok, _ := n.Opt("Refs"); ok {
		if v, ok2, _ := refs.Opt("EndToEndId"); ok2 {
			tx.EndToEndID = v.Text()
		}
		if v, ok2, _ := refs.Opt("PmtInfId"); ok2 {
			tx.PaymentInformationID = v.Text()
		}
		if v, ok2, _ := refs.Opt("MsgId"); ok2 {
			tx.MessageID = v.Text()
		}
	}

	if amts, ok, _ := n.Opt("AmtDtls"); ok {
		tx.InstructedAmount = optionalAmount(amts, "InstdAmt")
		tx.CounterValueAmount = optionalAmount(amts, "CntrValAmt")
		tx.InterBankSettledAmount = optionalAmount(amts, "TxAmt")
		if cv, ok2, _ := amts.Opt("CntrValAmt"); ok2 {
			if ccyInd, ok3, _ := cv.Opt("CcyXchg"); ok3 {
				exch := &CurrencyExchange{}
				if src, ok4, _ := ccyInd.Opt("SrcCcy"); ok4 {
					exch.SourceCurrency = src.Text()
				}
				if tgt, ok4, _ := ccyInd.Opt("TrgtCcy"); ok4 {
					exch.TargetCurrency = tgt.Text()
				}
				if rate, ok4, _ := ccyInd.Opt("XchgRate"); ok4 {
					exch.ExchangeRate = rate.Text()
				}
				tx.Exchange = exch
			}
		}
	}

	if parties, ok, _ := n.Opt("RltdPties"); ok {
		tx.Debtor = parseParty(parties, "Dbtr", "DbtrAcct")
		tx.Creditor = parseParty(parties, "Cdtr", "CdtrAcct")
	}
	if agents, ok, _ := n.Opt("RltdAgts"); ok {
		if bic, ok2 := agentBIC(agents, "DbtrAgt"); ok2 {
			tx.Debtor.AgentBIC = bic
		}
		if bic, ok2 := agentBIC(agents, "CdtrAgt"); ok2 {
			tx.Creditor.AgentBIC = bic
		}
	}

	if rmt, ok, _ := n.Opt("RmtInf"); ok {
		if ustrd, ok2, _ := rmt.Opt("Ustrd"); ok2 {
			tx.RemittanceInformation = ustrd.Text()
		}
	}

	if ret, ok, _ := n.Opt("RtrInf"); ok {
		if rsn, ok2, _ := ret.Opt("Rsn"); ok2 {
			if cd, ok3, _ := rsn.Opt("Cd"); ok3 {
				tx.ReturnReason = cd.Text()
			} else {
				tx.ReturnReason = rsn.Text()
			}
		}
	}

	return tx, nil
}

func optionalAmount(parent *codec.Destructor, tag string) *payment.Amount {
	node, ok, _ := parent.Opt(tag)
	if !ok {
		return nil
	}
	ccy, _ := node.Attr("Ccy")
	amt, err := payment.ParseAmount(ccy + ":" + node.Text())
	if err != nil {
		return nil
	}
	return &amt
}

func parseParty(parent *codec.Destructor, partyTag, acctTag string) Party {
	var p Party
	if party, ok, _ := parent.Opt(partyTag); ok {
		if pty, ok2, _ := party.Opt("Pty"); ok2 {
			if nm, ok3, _ := pty.Opt("Nm"); ok3 {
				p.Name = nm.Text()
			}
		}
	}
	if acct, ok, _ := parent.Opt(acctTag); ok {
		if id, ok2, _ := acct.Opt("Id"); ok2 {
			if ibanNode, ok3, _ := id.Opt("IBAN"); ok3 {
				p.IBAN = ibanNode.Text()
			}
		}
	}
	if ultm, ok, _ := parent.Opt("UltmtDbtr"); ok {
		if nm, ok2, _ := ultm.Opt("Nm"); ok2 {
			p.UltimateName = nm.Text()
		}
	}
	if ultm, ok, _ := parent.Opt("UltmtCdtr"); ok {
		if nm, ok2, _ := ultm.Opt("Nm"); ok2 {
			p.UltimateName = nm.Text()
		}
	}
	return p
}

func agentBIC(agents *codec.Destructor, tag string) (string, bool) {
	agent, ok, _ := agents.Opt(tag)
	if !ok {
		return "", false
	}
	fin, ok, _ := agent.Opt("FinInstnId")
	if !ok {
		return "", false
	}
	if bic, ok2, _ := fin.Opt("BICFI"); ok2 {
		return bic.Text(), true
	}
	if bic, ok2, _ := fin.Opt("BIC"); ok2 {
		return bic.Text(), true
	}
	return "", false
}
