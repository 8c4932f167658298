package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ebicsnexus/internal/ebics"
	"ebicsnexus/internal/ebicsengine"
	"ebicsnexus/internal/iso20022"
	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/store"
)

// FetcherConfig tunes the fetcher's polling cadence and which order
// types it downloads each cycle.
type FetcherConfig struct {
	PollInterval             time.Duration
	OrderTypes               []ebics.OrderType
	IgnoreTransactionsBefore *time.Time
}

// DefaultFetcherConfig downloads C53 (end-of-day statements) and C54
// (debit notifications); C52 (intraday) is opt-in since most banks only
// refresh it a few times a day.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		PollInterval: 15 * time.Second,
		OrderTypes:   []ebics.OrderType{ebics.OrderC53, ebics.OrderC54},
	}
}

// Fetcher downloads bank statements, records every transaction they
// carry, and links confirmed outgoing payments back to their initiation
// (spec.md §4.7, §4.9).
type Fetcher struct {
	store        *store.Store
	engine       *ebicsengine.Engine
	subscriberID int64
	iban         string
	config       FetcherConfig
	txMu         *sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFetcher builds a Fetcher for one subscriber. txMu must be the same
// mutex passed to that subscriber's Submitter.
func NewFetcher(st *store.Store, engine *ebicsengine.Engine, subscriberID int64, iban string, txMu *sync.Mutex, cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		store:        st,
		engine:       engine,
		subscriberID: subscriberID,
		iban:         iban,
		config:       cfg,
		txMu:         txMu,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the fetcher loop in the background until Stop is called or
// ctx is cancelled.
func (f *Fetcher) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
}

// Stop signals the loop to finish its current cycle and waits for it to
// exit.
func (f *Fetcher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Fetcher) run(ctx context.Context) {
	backoff := NewBackoff()
	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			if err := f.fetchCycle(ctx); err != nil {
				delay := backoff.Next()
				slog.Error("fetcher: cycle failed, backing off", "subscriber_id", f.subscriberID, "error", err, "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-f.stopCh:
					return
				}
				continue
			}
			backoff.Reset()
		}
	}
}

// RunOnce runs a single fetch cycle without entering the polling loop —
// used by the `ebics-fetch` CLI command.
func (f *Fetcher) RunOnce(ctx context.Context) error {
	return f.fetchCycle(ctx)
}

func (f *Fetcher) fetchCycle(ctx context.Context) error {
	sub, err := f.store.LoadSubscriber(ctx, f.subscriberID)
	if err != nil {
		return fmt.Errorf("fetcher: load subscriber: %w", err)
	}
	if sub.KeyState != store.StateReady {
		return nil
	}
	keys, err := loadSubscriberKeys(sub)
	if err != nil {
		return err
	}

	from := ""
	if f.config.IgnoreTransactionsBefore != nil {
		from = f.config.IgnoreTransactionsBefore.Format("2006-01-02")
	}

	anyIngested := false
	for _, orderType := range f.config.OrderTypes {
		f.txMu.Lock()
		doc, err := f.engine.DownloadStatement(ctx, orderType, from, "", keys.Auth, keys.Enc)
		f.txMu.Unlock()
		if err != nil {
			return fmt.Errorf("fetcher: download %s: %w", orderType, err)
		}
		if doc == nil {
			continue // EBICS_NO_DOWNLOAD_DATA_AVAILABLE
		}

		msgID, err := f.store.AppendBankMessage(ctx, f.subscriberID, string(orderType), doc, time.Now())
		if err != nil {
			return fmt.Errorf("fetcher: append bank message: %w", err)
		}

		if err := f.processMessage(ctx, msgID, doc); err != nil {
			slog.Error("fetcher: statement parse failed, kept raw for audit", "message_id", msgID, "error", err)
			_ = f.store.MarkMessageProcessed(ctx, msgID, true)
			continue
		}
		_ = f.store.MarkMessageProcessed(ctx, msgID, false)
		anyIngested = true
	}

	if anyIngested {
		if err := f.store.Notify(ctx, "incoming."+f.iban); err != nil {
			slog.Warn("fetcher: notify failed", "subscriber_id", f.subscriberID, "error", err)
		}
	}
	return nil
}

// processMessage parses one downloaded statement and records every
// credit (incoming) and debit (outgoing) entry it carries.
func (f *Fetcher) processMessage(ctx context.Context, messageDBID int64, doc []byte) error {
	entries, err := iso20022.ParseStatement(doc)
	if err != nil {
		return fmt.Errorf("parse statement: %w", err)
	}

	for _, entry := range entries {
		for _, txn := range entry.Transactions {
			if err := f.recordTransaction(ctx, entry, txn); err != nil {
				slog.Error("fetcher: transaction ingest failed", "message_db_id", messageDBID, "error", err)
			}
		}
	}
	return nil
}

func (f *Fetcher) recordTransaction(ctx context.Context, entry iso20022.Entry, txn iso20022.Transaction) error {
	bankID := entry.AccountServicerReference
	if bankID == "" {
		bankID = txn.EndToEndID
	}

	switch entry.CreditDebit {
	case iso20022.Credit:
		reservePub, hasReserve := payment.ExtractReservePub(txn.RemittanceInformation)
		var reservePubStr *string
		if hasReserve {
			s := reservePub.String()
			reservePubStr = &s
		}
		_, _, err := f.store.RecordIncomingIfNew(ctx, f.subscriberID, store.IncomingPayment{
			Amount:        entry.Amount,
			DebitPayto:    txn.Debtor.IBAN,
			Subject:       txn.RemittanceInformation,
			ExecutionTime: entry.ValueDate,
			BankID:        bankID,
			ReservePub:    reservePubStr,
		})
		return err

	case iso20022.Debit:
		var wtid *string
		var exchangeURL *string
		if w, base, err := payment.ParseOutgoingSubject(txn.RemittanceInformation); err == nil {
			s := w.String()
			wtid = &s
			exchangeURL = &base
		}
		_, _, err := f.store.RecordOutgoingIfNew(ctx, f.subscriberID, store.OutgoingPayment{
			Amount:          entry.Amount,
			CreditPayto:     txn.Creditor.IBAN,
			Subject:         txn.RemittanceInformation,
			ExecutionTime:   entry.ValueDate,
			BankID:          bankID,
			WTID:            wtid,
			ExchangeBaseURL: exchangeURL,
		}, txn.MessageID, txn.PaymentInformationID)
		return err
	}
	return nil
}
