package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/store"
	"ebicsnexus/internal/store/testutil"
)

func newSubscriber(t *testing.T, ctx context.Context, st *store.Store) int64 {
	t.Helper()
	id, err := st.CreateSubscriber(ctx, store.Subscriber{
		PartnerID: "PARTNER1",
		UserID:    "USER1",
		HostID:    "HOST1",
		EbicsURL:  "https://bank.example/ebics",
		Dialect:   "postfinance",
		AuthPriv:  []byte("auth-priv-der"),
		EncPriv:   []byte("enc-priv-der"),
		SigPriv:   []byte("sig-priv-der"),
	})
	require.NoError(t, err)
	return id
}

func TestCreateInitiatedRejectsDuplicateRequestUID(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:1.50")
	require.NoError(t, err)

	p := store.InitiatedPayment{
		Amount:      amt,
		Subject:     "invoice 1",
		CreditPayto: "payto://iban/DE89370400440532013000",
		RequestUID:  "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}

	id1, err := ts.Store.CreateInitiated(ctx, subID, p)
	require.NoError(t, err)
	require.NotZero(t, id1)

	_, err = ts.Store.CreateInitiated(ctx, subID, p)
	require.ErrorIs(t, err, store.ErrDuplicateRequestUID)
}

func TestInitiatedLifecycle(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:2")
	require.NoError(t, err)

	id, err := ts.Store.CreateInitiated(ctx, subID, store.InitiatedPayment{
		Amount:      amt,
		Subject:     "invoice 2",
		CreditPayto: "payto://iban/DE89370400440532013000",
		RequestUID:  "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
	})
	require.NoError(t, err)

	pending, err := ts.Store.PendingInitiated(ctx, subID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)

	require.NoError(t, ts.Store.MarkSubmitted(ctx, id, "MSG-1", time.Now()))

	pending, err = ts.Store.PendingInitiated(ctx, subID)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, ts.Store.MarkConfirmed(ctx, id, "BANKTX-1"))

	row, err := ts.Store.LoadInitiatedByRequestUID(ctx, "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	require.NoError(t, err)
	require.Equal(t, store.Confirmed, row.State)
	require.Equal(t, "BANKTX-1", *row.ConfirmationTx)
}

func TestMarkSubmittedRejectsNonPendingRow(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:3")
	require.NoError(t, err)

	id, err := ts.Store.CreateInitiated(ctx, subID, store.InitiatedPayment{
		Amount:      amt,
		Subject:     "invoice 3",
		CreditPayto: "payto://iban/DE89370400440532013000",
		RequestUID:  "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
	})
	require.NoError(t, err)
	require.NoError(t, ts.Store.MarkSubmitted(ctx, id, "MSG-2", time.Now()))

	err = ts.Store.MarkSubmitted(ctx, id, "MSG-2-retry", time.Now())
	require.Error(t, err)
}

func TestRecordIncomingIfNewDedupesByBankID(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:10")
	require.NoError(t, err)
	reservePub := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"

	p := store.IncomingPayment{
		Amount:        amt,
		DebitPayto:    "payto://iban/DE89370400440532013000",
		Subject:       "reserve top-up",
		ExecutionTime: time.Now(),
		BankID:        "BANK-ENTRY-1",
		ReservePub:    &reservePub,
	}

	id1, outcome1, err := ts.Store.RecordIncomingIfNew(ctx, subID, p)
	require.NoError(t, err)
	require.Equal(t, store.Created, outcome1)

	id2, outcome2, err := ts.Store.RecordIncomingIfNew(ctx, subID, p)
	require.NoError(t, err)
	require.Equal(t, store.Duplicate, outcome2)
	require.Equal(t, id1, id2)
}

func TestRecordIncomingIfNewRefundsDuplicateReservePub(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:10")
	require.NoError(t, err)
	reservePub := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"

	_, _, err = ts.Store.RecordIncomingIfNew(ctx, subID, store.IncomingPayment{
		Amount: amt, DebitPayto: "payto://iban/DE89370400440532013000",
		Subject: "first", ExecutionTime: time.Now(), BankID: "BANK-ENTRY-A", ReservePub: &reservePub,
	})
	require.NoError(t, err)

	id2, outcome2, err := ts.Store.RecordIncomingIfNew(ctx, subID, store.IncomingPayment{
		Amount: amt, DebitPayto: "payto://iban/DE89370400440532013000",
		Subject: "repeat", ExecutionTime: time.Now(), BankID: "BANK-ENTRY-B", ReservePub: &reservePub,
	})
	require.NoError(t, err)
	require.Equal(t, store.Created, outcome2)

	history, err := ts.Store.IncomingHistory(ctx, subID, 0, 5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	var dup store.IncomingPayment
	for _, row := range history {
		if row.ID == id2 {
			dup = row
		}
	}
	require.Nil(t, dup.ReservePub)
	require.True(t, dup.Refunded)
}

func TestRecordOutgoingIfNewLinksInitiation(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	amt, err := payment.ParseAmount("EUR:5")
	require.NoError(t, err)
	initID, err := ts.Store.CreateInitiated(ctx, subID, store.InitiatedPayment{
		Amount: amt, Subject: "transfer out", CreditPayto: "payto://iban/DE89370400440532013000",
		RequestUID: "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD",
	})
	require.NoError(t, err)
	require.NoError(t, ts.Store.MarkSubmitted(ctx, initID, "MSG-OUT-1", time.Now()))

	row, err := ts.Store.LoadInitiatedByRequestUID(ctx, "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
	require.NoError(t, err)

	_, outcome, err := ts.Store.RecordOutgoingIfNew(ctx, subID, store.OutgoingPayment{
		Amount: amt, CreditPayto: row.CreditPayto, Subject: row.Subject,
		ExecutionTime: time.Now(), BankID: "BANK-OUT-1",
	}, "MSG-OUT-1", row.PmtInfoID)
	require.NoError(t, err)
	require.Equal(t, store.Created, outcome)

	confirmed, err := ts.Store.LoadInitiatedByRequestUID(ctx, "DDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
	require.NoError(t, err)
	require.Equal(t, store.Confirmed, confirmed.State)
	require.Equal(t, "BANK-OUT-1", *confirmed.ConfirmationTx)
}

func TestBankMessageAppendAndUnseen(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()
	subID := newSubscriber(t, ctx, ts.Store)

	id, err := ts.Store.AppendBankMessage(ctx, subID, "C53", []byte("<Document/>"), time.Now())
	require.NoError(t, err)

	unseen, err := ts.Store.UnseenBankMessages(ctx, subID)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	require.Equal(t, id, unseen[0].ID)

	require.NoError(t, ts.Store.MarkMessageProcessed(ctx, id, false))

	unseen, err = ts.Store.UnseenBankMessages(ctx, subID)
	require.NoError(t, err)
	require.Empty(t, unseen)
}

func TestListenNotify(t *testing.T) {
	ts := testutil.NewTestStore(t)
	defer ts.Close(t)
	ctx := context.Background()

	listener, err := ts.Store.Listen(ctx, "incoming.de89370400440532013000")
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- listener.Wait(waitCtx)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, ts.Store.Notify(ctx, "incoming.de89370400440532013000"))

	require.NoError(t, <-done)
}
