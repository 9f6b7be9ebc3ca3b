package carerequest

import (
	"context"
	"fmt"
)

// CreateParams is the intake payload for a new care request.
type CreateParams struct {
	PatientID        string
	AgentID          *string
	CareType         string
	DurationValue    int
	DurationUnit     string
	BudgetMinCents   int64
	BudgetMaxCents   int64
	BudgetCents      int64
	MarketplaceReady bool
}

// Create registers a new request in the open state. Intake never assigns a
// nurse or touches payment; those flow through Transition.
func (s *Service) Create(ctx context.Context, params CreateParams) (CareRequest, error) {
	if params.PatientID == "" {
		return CareRequest{}, fmt.Errorf("carerequest: missing patient id")
	}
	if params.CareType == "" {
		return CareRequest{}, fmt.Errorf("carerequest: care type required")
	}
	if params.DurationValue <= 0 {
		return CareRequest{}, fmt.Errorf("carerequest: duration must be positive")
	}
	if params.BudgetMinCents < 0 || params.BudgetMaxCents < 0 || params.BudgetCents < 0 {
		return CareRequest{}, fmt.Errorf("carerequest: budgets must not be negative")
	}
	if params.BudgetMaxCents > 0 && params.BudgetMinCents > params.BudgetMaxCents {
		return CareRequest{}, fmt.Errorf("carerequest: budget min exceeds budget max")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req := CareRequest{
		ID:               s.idGenerator(),
		PatientID:        params.PatientID,
		AgentID:          params.AgentID,
		CareType:         params.CareType,
		DurationValue:    params.DurationValue,
		DurationUnit:     params.DurationUnit,
		BudgetMinCents:   params.BudgetMinCents,
		BudgetMaxCents:   params.BudgetMaxCents,
		BudgetCents:      params.BudgetCents,
		MarketplaceReady: params.MarketplaceReady,
		Status:           StatusOpen,
		PaymentStatus:    PaymentPending,
	}

	created, err := s.repo.Create(ctx, tx, req)
	if err != nil {
		return CareRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: commit create: %w", err)
	}

	return created, nil
}
