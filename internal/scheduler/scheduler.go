// Package scheduler runs the two long-lived background tasks that move
// money in and out of the bank on this gateway's behalf (spec.md §4.7,
// §4.8): the submitter, which uploads queued payments, and the fetcher,
// which downloads and ingests bank statements. Both share a mutex per
// subscriber so only one EBICS transaction is ever open against a given
// host at a time, matching the protocol's single-transaction-per-user
// constraint.
package scheduler

import (
	"context"
	"sync"

	"ebicsnexus/internal/ebicsengine"
	"ebicsnexus/internal/store"
)

// Scheduler owns one Submitter/Fetcher pair for a single subscriber —
// this gateway acts as exactly one EBICS subscriber per spec.md §6's
// configuration shape, so there is one of each, not one per row in the
// subscribers table.
type Scheduler struct {
	submitter *Submitter
	fetcher   *Fetcher
}

// New builds a Scheduler for subscriberID, talking to the bank through
// engine and persisting through st. iban/bic/name identify the debtor
// side of every pain.001 this instance submits.
func New(st *store.Store, engine *ebicsengine.Engine, subscriberID int64, iban, bic, name string, submitCfg SubmitterConfig, fetchCfg FetcherConfig) *Scheduler {
	txMu := &sync.Mutex{}
	return &Scheduler{
		submitter: NewSubmitter(st, engine, subscriberID, iban, bic, name, txMu, submitCfg),
		fetcher:   NewFetcher(st, engine, subscriberID, iban, txMu, fetchCfg),
	}
}

// Start launches both background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.submitter.Start(ctx)
	s.fetcher.Start(ctx)
}

// Stop waits for both loops to finish their current cycle before
// returning, so shutdown never abandons an EBICS transaction mid-segment.
func (s *Scheduler) Stop() {
	s.submitter.Stop()
	s.fetcher.Stop()
}
