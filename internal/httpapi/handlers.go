package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ebicsnexus/internal/localbank"
	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/store"
)

const subscriberID = int64(1) // this gateway instance acts as exactly one EBICS subscriber (spec.md §6)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, ConfigResponse{
		Version:  "0:0:0",
		Name:     "taler-wire-gateway",
		Currency: s.cfg.Currency,
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errParameterMalformed("invalid JSON body: "+err.Error()))
		return
	}

	credit, err := payment.ParsePayto(req.CreditAccount)
	if err != nil {
		writeError(w, errParameterMalformed("credit_account: "+err.Error()))
		return
	}
	if req.Amount.Currency != s.cfg.Currency {
		writeError(w, errParameterMalformed(fmt.Sprintf("amount currency %q does not match gateway currency %q", req.Amount.Currency, s.cfg.Currency)))
		return
	}

	subject := fmt.Sprintf("%s %s", req.WTID.String(), req.ExchangeBaseURL)
	uid := req.RequestUID.String()

	p := store.InitiatedPayment{
		Amount:      req.Amount.Amount,
		Subject:     subject,
		CreditPayto: credit.Canonical(),
		RequestUID:  uid,
	}
	id, err := s.store.CreateInitiated(r.Context(), subscriberID, p)
	if err == nil {
		if localbank.IsLocalAccount(credit) && s.localBank != nil {
			p.ID = id
			if settleErr := s.localBank.Submit(r.Context(), p); settleErr != nil {
				s.logger.Error("httpapi: local-bank settlement failed", "payment_id", id, "error", settleErr)
			}
		}
		writeJSON(w, 200, TransferResponse{Timestamp: NewTimestamp(time.Now()), RowID: id})
		return
	}
	if err != store.ErrDuplicateRequestUID {
		writeError(w, errInternalInvariant("create initiated: "+err.Error()))
		return
	}

	existing, loadErr := s.store.LoadInitiatedByRequestUID(r.Context(), uid)
	if loadErr != nil {
		writeError(w, errInternalInvariant("load existing initiated: "+loadErr.Error()))
		return
	}
	if existing.Amount.Equal(req.Amount.Amount) && existing.Subject == subject && existing.CreditPayto == credit.Canonical() {
		writeJSON(w, 200, TransferResponse{Timestamp: NewTimestamp(existing.InitiationTime), RowID: existing.ID})
		return
	}
	writeError(w, errDuplicateRequestUID(fmt.Sprintf("request_uid %s already used with different fields", uid)))
}

func (s *Server) handleAddIncoming(w http.ResponseWriter, r *http.Request) {
	var req AddIncomingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errParameterMalformed("invalid JSON body: "+err.Error()))
		return
	}
	debit, err := payment.ParsePayto(req.DebitAccount)
	if err != nil {
		writeError(w, errParameterMalformed("debit_account: "+err.Error()))
		return
	}
	if req.Amount.Currency != s.cfg.Currency {
		writeError(w, errParameterMalformed(fmt.Sprintf("amount currency %q does not match gateway currency %q", req.Amount.Currency, s.cfg.Currency)))
		return
	}

	reservePubStr := req.ReservePub.String()
	bankID := "admin-" + reservePubStr
	id, _, err := s.store.RecordIncomingIfNew(r.Context(), subscriberID, store.IncomingPayment{
		Amount:        req.Amount.Amount,
		DebitPayto:    debit.Canonical(),
		Subject:       reservePubStr,
		ExecutionTime: time.Now(),
		BankID:        bankID,
		ReservePub:    &reservePubStr,
	})
	if err != nil {
		writeError(w, errInternalInvariant("record incoming: "+err.Error()))
		return
	}
	if err := s.store.Notify(r.Context(), "incoming."+s.cfg.SubscriberIBAN); err != nil {
		s.logger.Warn("httpapi: notify failed", "error", err)
	}
	writeJSON(w, 200, AddIncomingResponse{Timestamp: NewTimestamp(time.Now()), RowID: id})
}

// paginationParams parses the delta/start/long_poll_ms query parameters
// shared by both history endpoints (spec.md §4.9).
type paginationParams struct {
	delta      int
	start      int64
	longPollMs int
}

func parsePagination(r *http.Request) (paginationParams, *apiError) {
	q := r.URL.Query()

	deltaStr := q.Get("delta")
	if deltaStr == "" {
		return paginationParams{}, errParameterMalformed("delta is required")
	}
	delta, err := strconv.Atoi(deltaStr)
	if err != nil || delta == 0 {
		return paginationParams{}, errParameterMalformed("delta must be a nonzero integer")
	}

	var start int64
	if delta < 0 {
		start = int64(^uint64(0) >> 1) // max int64: "before" defaults to the newest row
	}
	if s := q.Get("start"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return paginationParams{}, errParameterMalformed("start must be an integer")
		}
		start = v
	}

	longPollMs := 0
	if lp := q.Get("long_poll_ms"); lp != "" {
		v, err := strconv.Atoi(lp)
		if err != nil || v < 0 {
			return paginationParams{}, errParameterMalformed("long_poll_ms must be a non-negative integer")
		}
		longPollMs = v
	}

	return paginationParams{delta: delta, start: start, longPollMs: longPollMs}, nil
}

func (s *Server) handleHistoryIncoming(w http.ResponseWriter, r *http.Request) {
	params, apiErr := parsePagination(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	rows, err := s.store.IncomingHistory(r.Context(), subscriberID, params.start, params.delta)
	if err != nil {
		writeError(w, errInternalInvariant("incoming history: "+err.Error()))
		return
	}

	// Negative delta ("before") is documented as ambiguous upstream
	// (spec.md §9 Open Questions); we long-poll only the ascending case.
	if len(rows) < abs(params.delta) && params.longPollMs > 0 && params.delta > 0 {
		rows = s.waitForMoreIncoming(r.Context(), params, rows)
	}

	if len(rows) == 0 && params.longPollMs > 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, 200, IncomingHistory{
		IncomingTransactions: toIncomingTransactions(rows),
		CreditAccount:        s.cfg.SubscriberIBAN,
	})
}

func (s *Server) waitForMoreIncoming(ctx context.Context, params paginationParams, rows []store.IncomingPayment) []store.IncomingPayment {
	listener, err := s.store.Listen(ctx, "incoming."+s.cfg.SubscriberIBAN)
	if err != nil {
		s.logger.Warn("httpapi: long-poll listen failed, returning immediately", "error", err)
		return rows
	}
	defer listener.Close()

	deadline, cancel := context.WithTimeout(ctx, time.Duration(params.longPollMs)*time.Millisecond)
	defer cancel()

	if err := listener.Wait(deadline); err != nil {
		return rows // timeout or cancellation: respond with whatever we had
	}
	fresh, err := s.store.IncomingHistory(ctx, subscriberID, params.start, params.delta)
	if err != nil {
		return rows
	}
	return fresh
}

func (s *Server) handleHistoryOutgoing(w http.ResponseWriter, r *http.Request) {
	params, apiErr := parsePagination(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	rows, err := s.store.OutgoingHistory(r.Context(), subscriberID, params.start, params.delta)
	if err != nil {
		writeError(w, errInternalInvariant("outgoing history: "+err.Error()))
		return
	}

	if len(rows) < abs(params.delta) && params.longPollMs > 0 && params.delta > 0 {
		rows = s.waitForMoreOutgoing(r.Context(), params, rows)
	}

	if len(rows) == 0 && params.longPollMs > 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, 200, OutgoingHistory{
		OutgoingTransactions: toOutgoingTransactions(rows),
		DebitAccount:         s.cfg.SubscriberIBAN,
	})
}

func (s *Server) waitForMoreOutgoing(ctx context.Context, params paginationParams, rows []store.OutgoingPayment) []store.OutgoingPayment {
	// The fetcher notifies "incoming.<iban>" after any ingestion cycle,
	// whether it produced incoming or outgoing rows — there is only one
	// channel per subscriber, not one per table.
	listener, err := s.store.Listen(ctx, "incoming."+s.cfg.SubscriberIBAN)
	if err != nil {
		s.logger.Warn("httpapi: long-poll listen failed, returning immediately", "error", err)
		return rows
	}
	defer listener.Close()

	deadline, cancel := context.WithTimeout(ctx, time.Duration(params.longPollMs)*time.Millisecond)
	defer cancel()

	if err := listener.Wait(deadline); err != nil {
		return rows
	}
	fresh, err := s.store.OutgoingHistory(ctx, subscriberID, params.start, params.delta)
	if err != nil {
		return rows
	}
	return fresh
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func toIncomingTransactions(rows []store.IncomingPayment) []IncomingReserveTransaction {
	out := make([]IncomingReserveTransaction, 0, len(rows))
	for _, p := range rows {
		var reservePub payment.ShortHashCode
		if p.ReservePub != nil {
			if parsed, err := payment.ParseShortHashCode(*p.ReservePub); err == nil {
				reservePub = parsed
			}
		}
		out = append(out, IncomingReserveTransaction{
			Type:         "RESERVE",
			RowID:        p.ID,
			Date:         NewTimestamp(p.ExecutionTime),
			Amount:       wireAmount{p.Amount},
			DebitAccount: p.DebitPayto,
			ReservePub:   reservePub,
		})
	}
	return out
}

func toOutgoingTransactions(rows []store.OutgoingPayment) []OutgoingTransaction {
	out := make([]OutgoingTransaction, 0, len(rows))
	for _, p := range rows {
		var wtid payment.ShortHashCode
		var exchangeURL string
		if p.WTID != nil {
			if parsed, err := payment.ParseShortHashCode(*p.WTID); err == nil {
				wtid = parsed
			}
		}
		if p.ExchangeBaseURL != nil {
			exchangeURL = *p.ExchangeBaseURL
		}
		out = append(out, OutgoingTransaction{
			RowID:           p.ID,
			Date:            NewTimestamp(p.ExecutionTime),
			Amount:          wireAmount{p.Amount},
			CreditAccount:   p.CreditPayto,
			WTID:            wtid,
			ExchangeBaseURL: exchangeURL,
		})
	}
	return out
}
