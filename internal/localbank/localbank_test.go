package localbank_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ebicsnexus/internal/localbank"
	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/store"
	"ebicsnexus/internal/store/testutil"
)

func newSubscriber(t *testing.T, ctx context.Context, st *store.Store) int64 {
	t.Helper()
	id, err := st.CreateSubscriber(ctx, store.Subscriber{
		PartnerID: "PARTNER1", UserID: "USER1", HostID: "HOST1",
		EbicsURL: "https://bank.example/ebics", Dialect: "postfinance",
		AuthPriv: []byte("auth"), EncPriv: []byte("enc"), SigPriv: []byte("sig"),
	})
	require.NoError(t, err)
	return id
}

func TestSubmitSettlesInstantly(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:5.00")
	require.NoError(t, err)

	id, err := ts.Store.CreateInitiated(ctx, subID, store.InitiatedPayment{
		Amount: amt, Subject: "test transfer",
		CreditPayto: "payto://x-taler-bank/bank.example/receiver",
		RequestUID:  "localbank-test-request-uid-000000000000000000000000",
	})
	require.NoError(t, err)

	p, err := ts.Store.LoadInitiatedByRequestUID(ctx, "localbank-test-request-uid-000000000000000000000000")
	require.NoError(t, err)
	p.ID = id

	bank := localbank.New(ts.Store, subID, "LOCALIBAN", nil)
	require.NoError(t, bank.Submit(ctx, *p))

	confirmed, err := ts.Store.LoadInitiatedByRequestUID(ctx, p.RequestUID)
	require.NoError(t, err)
	require.Equal(t, store.Confirmed, confirmed.State)
}

func TestRecordIncomingIsIdempotentByBankID(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:2.00")
	require.NoError(t, err)

	bank := localbank.New(ts.Store, subID, "LOCALIBAN", nil)
	p := store.IncomingPayment{
		Amount: amt, DebitPayto: "payto://x-taler-bank/bank.example/sender",
		BankID: "localbank-fixed-id",
	}

	id1, outcome1, err := bank.RecordIncoming(ctx, p)
	require.NoError(t, err)
	require.Equal(t, store.Created, outcome1)

	id2, outcome2, err := bank.RecordIncoming(ctx, p)
	require.NoError(t, err)
	require.Equal(t, store.Duplicate, outcome2)
	require.Equal(t, id1, id2)
}

func TestIsLocalAccount(t *testing.T) {
	local, err := payment.ParsePayto("payto://x-taler-bank/bank.example/receiver")
	require.NoError(t, err)
	require.True(t, localbank.IsLocalAccount(local))

	iban, err := payment.ParsePayto("payto://iban/DE89370400440532013000")
	require.NoError(t, err)
	require.False(t, localbank.IsLocalAccount(iban))
}
