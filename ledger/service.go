package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidPayoutTransition signals a payout status advance the machine
// does not permit.
var ErrInvalidPayoutTransition = errors.New("ledger: invalid payout transition")

// payoutSuccessors enumerates the permitted payout advances. paid and
// cancelled are terminal.
var payoutSuccessors = map[PayoutStatus][]PayoutStatus{
	PayoutPending:  {PayoutApproved, PayoutOnHold, PayoutCancelled},
	PayoutApproved: {PayoutPaid, PayoutOnHold, PayoutCancelled},
	PayoutOnHold:   {PayoutApproved, PayoutCancelled},
}

func payoutTransitionAllowed(from, to PayoutStatus) bool {
	for _, s := range payoutSuccessors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PayoutRepository is the data access the payout service needs.
type PayoutRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (EarningsRecord, error)
	UpdatePayout(ctx context.Context, tx pgx.Tx, id string, status PayoutStatus, reference, notes *string) (EarningsRecord, error)
}

// Service advances payout status on behalf of the external payout
// collaborator.
type Service struct {
	pool TxBeginner
	repo PayoutRepository
}

func NewService(pool TxBeginner, repo PayoutRepository) *Service {
	return &Service{pool: pool, repo: repo}
}

// UpdatePayoutParams carries one payout advance.
type UpdatePayoutParams struct {
	RecordID  string
	Next      PayoutStatus
	Reference *string
	Notes     *string
}

// UpdatePayout locks the record, checks the payout machine, and persists the
// advance. Settlement amounts are immutable; only status, reference, and
// notes change.
func (s *Service) UpdatePayout(ctx context.Context, params UpdatePayoutParams) (EarningsRecord, error) {
	if params.RecordID == "" {
		return EarningsRecord{}, fmt.Errorf("ledger: missing record id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return EarningsRecord{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, params.RecordID)
	if err != nil {
		return EarningsRecord{}, err
	}

	if !payoutTransitionAllowed(rec.PayoutStatus, params.Next) {
		return EarningsRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidPayoutTransition, rec.PayoutStatus, params.Next)
	}

	updated, err := s.repo.UpdatePayout(ctx, tx, params.RecordID, params.Next, params.Reference, params.Notes)
	if err != nil {
		return EarningsRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EarningsRecord{}, fmt.Errorf("ledger: commit payout update: %w", err)
	}

	return updated, nil
}
