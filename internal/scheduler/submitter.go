package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	nexuscrypto "ebicsnexus/internal/crypto"
	"ebicsnexus/internal/ebicsengine"
	"ebicsnexus/internal/iso20022"
	"ebicsnexus/internal/store"
)

// SubmitterConfig tunes the submitter's polling cadence.
type SubmitterConfig struct {
	PollInterval time.Duration
}

// DefaultSubmitterConfig mirrors the fetcher's default cadence; both are
// cheap enough to poll often since the query itself is indexed and
// empty-result batches are the common case.
func DefaultSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{PollInterval: 15 * time.Second}
}

// Submitter uploads every pending InitiatedPayment to the bank, one at a
// time and in id order (spec.md §4.7), backing off with decorrelated
// jitter whenever a batch fails outright.
type Submitter struct {
	store        *store.Store
	engine       *ebicsengine.Engine
	subscriberID int64
	debtorIBAN   string
	debtorBIC    string
	debtorName   string
	config       SubmitterConfig
	txMu         *sync.Mutex

	// sigSigner, when set, signs every A006 order signature instead of
	// the subscriber's local signature private key (used when that role
	// is held in AWS KMS; see package kmssign).
	sigSigner nexuscrypto.Signer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetSigner overrides the signature role with signer, for subscribers
// whose A006 key lives in KMS instead of the local key file.
func (s *Submitter) SetSigner(signer nexuscrypto.Signer) {
	s.sigSigner = signer
}

// NewSubmitter builds a Submitter for one subscriber. txMu is shared
// with the Fetcher for the same subscriber so only one EBICS transaction
// is ever in flight against the bank at a time.
func NewSubmitter(st *store.Store, engine *ebicsengine.Engine, subscriberID int64, debtorIBAN, debtorBIC, debtorName string, txMu *sync.Mutex, cfg SubmitterConfig) *Submitter {
	return &Submitter{
		store:        st,
		engine:       engine,
		subscriberID: subscriberID,
		debtorIBAN:   debtorIBAN,
		debtorBIC:    debtorBIC,
		debtorName:   debtorName,
		config:       cfg,
		txMu:         txMu,
		stopCh:       make(chan struct{}),
	}
}

// Start runs the submitter loop in the background until Stop is called
// or ctx is cancelled.
func (s *Submitter) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop signals the loop to finish its current cycle and waits for it to
// exit, so an in-flight EBICS transaction is never abandoned mid-segment.
func (s *Submitter) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Submitter) run(ctx context.Context) {
	backoff := NewBackoff()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.submitBatch(ctx); err != nil {
				delay := backoff.Next()
				slog.Error("submitter: cycle failed, backing off", "subscriber_id", s.subscriberID, "error", err, "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				}
				continue
			}
			backoff.Reset()
		}
	}
}

// RunOnce submits every pending payment exactly once, without entering
// the polling loop — used by the `ebics-submit` CLI command.
func (s *Submitter) RunOnce(ctx context.Context) error {
	return s.submitBatch(ctx)
}

func (s *Submitter) submitBatch(ctx context.Context) error {
	pending, err := s.store.PendingInitiated(ctx, s.subscriberID)
	if err != nil {
		return fmt.Errorf("submitter: load pending: %w", err)
	}
	for _, p := range pending {
		if err := s.submitOne(ctx, p); err != nil {
			slog.Error("submitter: payment failed", "payment_id", p.ID, "error", err)
			if markErr := s.store.MarkFailed(ctx, p.ID, err.Error()); markErr != nil {
				return fmt.Errorf("submitter: mark failed for payment %d: %w", p.ID, markErr)
			}
		}
	}
	return nil
}

func (s *Submitter) submitOne(ctx context.Context, p store.InitiatedPayment) error {
	sub, err := s.store.LoadSubscriber(ctx, s.subscriberID)
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}
	if sub.KeyState != store.StateReady {
		return fmt.Errorf("subscriber key state is %s, not READY", sub.KeyState)
	}
	keys, err := loadSubscriberKeys(sub)
	if err != nil {
		return err
	}

	msgID := uuid.NewString()
	pain001, err := iso20022.BuildCreditTransferInitiation(iso20022.CreditTransferInitiation{
		MessageID:     msgID,
		PaymentInfoID: p.PmtInfoID,
		CreationDate:  time.Now(),
		RequestedDate: time.Now(),
		DebtorIBAN:    s.debtorIBAN,
		DebtorBIC:     s.debtorBIC,
		DebtorName:    s.debtorName,
		Instruction: iso20022.CreditTransferInstruction{
			EndToEndID:   p.RequestUID,
			Amount:       p.Amount,
			CreditorIBAN: p.CreditPayto,
			CreditorName: p.Subject,
			Subject:      p.Subject,
		},
	})
	if err != nil {
		return fmt.Errorf("build pain.001: %w", err)
	}

	sigSigner := s.sigSigner
	if sigSigner == nil {
		sigSigner = keys.SigSigner
	}

	s.txMu.Lock()
	_, err = s.engine.UploadCreditTransfer(ctx, pain001, sigSigner, keys.BankEnc, keys.Auth)
	s.txMu.Unlock()
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := s.store.MarkSubmitted(ctx, p.ID, msgID, time.Now()); err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if err := s.store.Notify(ctx, "initiated."+s.debtorIBAN); err != nil {
		slog.Warn("submitter: notify failed", "payment_id", p.ID, "error", err)
	}
	return nil
}
