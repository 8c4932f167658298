package iso20022

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCamt053 = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <Stmt>
      <Ntry>
        <Amt Ccy="EUR">10.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2026-07-15</Dt></BookgDt>
        <ValDt><Dt>2026-07-15</Dt></ValDt>
        <AcctSvcrRef>REF123</AcctSvcrRef>
        <BkTxCd><Domn><Cd>PMNT</Cd></Domn></BkTxCd>
        <NtryDtls>
          <TxDtls>
            <Refs>
              <EndToEndId>E2E-1</EndToEndId>
              <MsgId>MSG-1</MsgId>
            </Refs>
            <RltdPties>
              <Dbtr><Pty><Nm>Alice</Nm></Pty></Dbtr>
              <DbtrAcct><Id><IBAN>DE89370400440532013000</IBAN></Id></DbtrAcct>
            </RltdPties>
            <RmtInf><Ustrd>ignore me KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseStatementBasic(t *testing.T) {
	entries, err := ParseStatement([]byte(sampleCamt053))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, "EUR:10", e.Amount.String())
	require.Equal(t, Credit, e.CreditDebit)
	require.Equal(t, Booked, e.Status)
	require.Equal(t, "REF123", e.AccountServicerReference)
	require.Equal(t, "PMNT", e.BankTransactionCode)
	require.Len(t, e.Transactions, 1)

	tx := e.Transactions[0]
	require.Equal(t, "E2E-1", tx.EndToEndID)
	require.Equal(t, "MSG-1", tx.MessageID)
	require.Equal(t, "Alice", tx.Debtor.Name)
	require.Equal(t, "DE89370400440532013000", tx.Debtor.IBAN)
	require.Contains(t, tx.RemittanceInformation, "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG")
}

func TestParseStatementMissingRequiredFails(t *testing.T) {
	broken := `<Document><BkToCstmrStmt><Stmt><Ntry><CdtDbtInd>CRDT</CdtDbtInd><Sts>BOOK</Sts></Ntry></Stmt></BkToCstmrStmt></Document>`
	_, err := ParseStatement([]byte(broken))
	require.Error(t, err)
}

func TestParseStatementToleratesMissingOptionalFields(t *testing.T) {
	minimal := `<Document><BkToCstmrStmt><Stmt>
		<Ntry>
			<Amt Ccy="USD">5</Amt>
			<CdtDbtInd>DBIT</CdtDbtInd>
			<Sts>PDNG</Sts>
		</Ntry>
	</Stmt></BkToCstmrStmt></Document>`
	entries, err := ParseStatement([]byte(minimal))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, Debit, entries[0].CreditDebit)
	require.Empty(t, entries[0].Transactions)
}

func TestParseStatementFlattensMultipleBatchedTransactions(t *testing.T) {
	multi := `<Document><BkToCstmrStmt><Stmt>
		<Ntry>
			<Amt Ccy="EUR">100</Amt>
			<CdtDbtInd>CRDT</CdtDbtInd>
			<Sts>BOOK</Sts>
			<NtryDtls>
				<TxDtls><Refs><EndToEndId>A</EndToEndId></Refs></TxDtls>
				<TxDtls><Refs><EndToEndId>B</EndToEndId></Refs></TxDtls>
			</NtryDtls>
		</Ntry>
	</Stmt></BkToCstmrStmt></Document>`
	entries, err := ParseStatement([]byte(multi))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Transactions, 2)
	require.Equal(t, "A", entries[0].Transactions[0].EndToEndID)
	require.Equal(t, "B", entries[0].Transactions[1].EndToEndID)
}
