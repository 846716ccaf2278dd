// Package ledger is the prepaid character-credit ledger. Balances only move
// through the operations here; every mutation is a single conditional
// statement or transaction in the store, so the balance can never go
// negative and an order can never be credited twice.
package ledger

import (
	"context"
	"fmt"

	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/observability"
	"github.com/speaknet/speakd/internal/infra/sqlite"
)

// Service exposes the credit ledger operations.
type Service struct {
	db *sqlite.DB
}

// New creates the ledger service.
func New(db *sqlite.DB) *Service {
	return &Service{db: db}
}

// Get returns the agent's current balance. Agents with no ledger row have a
// balance of zero.
func (s *Service) Get(ctx context.Context, agentID string) (int64, error) {
	return s.db.Balance(ctx, agentID)
}

// Reserve atomically deducts amount characters from the agent's balance.
// Ok=false means the balance was insufficient and nothing changed.
// Non-positive amounts reserve nothing and succeed trivially.
func (s *Service) Reserve(ctx context.Context, agentID string, amount int64) (*domain.ReserveResult, error) {
	if amount <= 0 {
		remaining, err := s.db.Balance(ctx, agentID)
		if err != nil {
			return nil, err
		}
		return &domain.ReserveResult{Ok: true, CharactersRemaining: remaining}, nil
	}

	ok, remaining, err := s.db.ReserveChars(ctx, agentID, amount)
	if err != nil {
		return nil, fmt.Errorf("reserve %d chars for %s: %w", amount, agentID, err)
	}
	if ok {
		observability.CreditsReserved.Add(float64(amount))
	} else {
		observability.ReservationsRejected.Inc()
	}
	return &domain.ReserveResult{Ok: ok, CharactersRemaining: remaining}, nil
}

// Refund returns amount characters to the agent's balance. Non-positive
// amounts are a no-op.
func (s *Service) Refund(ctx context.Context, agentID string, amount int64) (int64, error) {
	if amount <= 0 {
		return s.db.Balance(ctx, agentID)
	}

	remaining, err := s.db.AddChars(ctx, agentID, amount)
	if err != nil {
		return 0, fmt.Errorf("refund %d chars to %s: %w", amount, agentID, err)
	}
	observability.CreditsRefunded.Add(float64(amount))
	return remaining, nil
}

// ReconcileReserved trues a reservation up to actual usage: the unused part
// of the reservation goes back to the balance. Actual usage above the
// reservation is absorbed, never charged extra.
func (s *Service) ReconcileReserved(ctx context.Context, agentID string, reserved, actual int64) (*domain.ReconcileResult, error) {
	refund := reserved - actual
	if refund < 0 {
		refund = 0
	}

	remaining, err := s.Refund(ctx, agentID, refund)
	if err != nil {
		return nil, err
	}
	return &domain.ReconcileResult{RefundedChars: refund, CharactersRemaining: remaining}, nil
}

// CreditForOrder grants an order's characters to the agent exactly once.
// The claim row insert and the balance increment commit atomically; a second
// call for the same order reports AlreadyCredited without moving the balance.
func (s *Service) CreditForOrder(ctx context.Context, agentID, orderID string, chars int64) (*domain.CreditResult, error) {
	alreadyCredited, remaining, err := s.db.CreditOrderOnce(ctx, agentID, orderID, chars)
	if err != nil {
		return nil, fmt.Errorf("credit order %s: %w", orderID, err)
	}
	if !alreadyCredited {
		observability.CreditsGranted.Add(float64(chars))
	}
	return &domain.CreditResult{AlreadyCredited: alreadyCredited, CharactersRemaining: remaining}, nil
}

// Stats summarizes issued credit across all accounts.
func (s *Service) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	accounts, total, err := s.db.LedgerTotals(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerStats{AccountsWithBalance: accounts, TotalCharactersIssued: total}, nil
}
