package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"careflow/settlement"
)

// CommissionSpec is the input recorded against a patient when an agent
// brokers an assignment.
type CommissionSpec struct {
	NurseAmountCents int64
	CommissionType   settlement.RateType
	CommissionValue  float64
	// ReferralPercent applies only when ReferrerApproved; otherwise the
	// referral share is zero.
	ReferralPercent  float64
	ReferrerApproved bool
}

// Compute derives the full mirror from a commission spec using the same
// settlement arithmetic the ledger settles with.
func Compute(spec CommissionSpec) (Financials, error) {
	res, err := settlement.ComputeCommission(spec.NurseAmountCents, spec.CommissionType, spec.CommissionValue)
	if err != nil {
		return Financials{}, err
	}

	var referral int64
	if spec.ReferrerApproved && spec.ReferralPercent > 0 {
		referral, err = settlement.ComputeReferralCommission(spec.NurseAmountCents, spec.ReferralPercent)
		if err != nil {
			return Financials{}, err
		}
	}

	amount := spec.NurseAmountCents
	return Financials{
		NurseAmountCents:      &amount,
		CommissionType:        spec.CommissionType,
		CommissionValue:       spec.CommissionValue,
		CommissionAmountCents: res.CommissionCents,
		NurseNetCents:         res.NurseNetCents,
		ReferralPercent:       spec.ReferralPercent,
		ReferralAmountCents:   referral,
	}, nil
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence the service needs.
type Store interface {
	Get(ctx context.Context, patientID string) (Financials, bool, error)
	GetInTx(ctx context.Context, tx pgx.Tx, patientID string) (Financials, bool, error)
	Upsert(ctx context.Context, tx pgx.Tx, patientID string, f Financials) error
	Clear(ctx context.Context, tx pgx.Tx, patientID string) error
}

// Service maintains the mirror for agent-brokered flows that bypass the
// marketplace lifecycle.
type Service struct {
	pool TxBeginner
	repo Store
}

func NewService(pool TxBeginner, repo Store) *Service {
	return &Service{pool: pool, repo: repo}
}

// Get reads the current mirror for a patient. The second return reports
// whether a mirror exists.
func (s *Service) Get(ctx context.Context, patientID string) (Financials, bool, error) {
	if patientID == "" {
		return Financials{}, false, fmt.Errorf("billing: missing patient id")
	}
	return s.repo.Get(ctx, patientID)
}

// RecordCommission computes and persists the mirror for one patient.
func (s *Service) RecordCommission(ctx context.Context, patientID string, spec CommissionSpec) (Financials, error) {
	if patientID == "" {
		return Financials{}, fmt.Errorf("billing: missing patient id")
	}

	f, err := Compute(spec)
	if err != nil {
		return Financials{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Financials{}, fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Preserve a previously recorded transfer margin across re-recordings.
	if existing, found, err := s.repo.GetInTx(ctx, tx, patientID); err != nil {
		return Financials{}, err
	} else if found {
		f.MarginType = existing.MarginType
		f.MarginValue = existing.MarginValue
		f.MarginAmountCents = existing.MarginAmountCents
	}

	if err := s.repo.Upsert(ctx, tx, patientID, f); err != nil {
		return Financials{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Financials{}, fmt.Errorf("billing: commit: %w", err)
	}

	return f, nil
}

// Clear wipes the mirror for a patient. Idempotent.
func (s *Service) Clear(ctx context.Context, patientID string) error {
	if patientID == "" {
		return fmt.Errorf("billing: missing patient id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Clear(ctx, tx, patientID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit clear: %w", err)
	}
	return nil
}
