package carerequest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence contract of the lifecycle controller.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req CareRequest) (CareRequest, error)
	Get(ctx context.Context, id string) (CareRequest, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (CareRequest, error)
	List(ctx context.Context, filters Filters) ([]CareRequest, int, error)
	ApplyTransition(ctx context.Context, tx pgx.Tx, req CareRequest, expected Status) (CareRequest, error)
	CapturePayment(ctx context.Context, tx pgx.Tx, id string) (CareRequest, error)
	UpdateAgent(ctx context.Context, tx pgx.Tx, id string, newAgentID string) (CareRequest, error)
}

// PGRepository is the pgx implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, patient_id, agent_id, care_type, duration_value, duration_unit,
               budget_min_cents, budget_max_cents, budget_cents, marketplace_ready,
               assigned_nurse_id, status, payment_status, assignment_comment,
               nurse_notified, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req CareRequest) (CareRequest, error) {
	const query = `
        INSERT INTO care_requests
            (id, patient_id, agent_id, care_type, duration_value, duration_unit,
             budget_min_cents, budget_max_cents, budget_cents, marketplace_ready,
             status, payment_status, nurse_notified)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6,
                $7, $8, $9, $10, $11, $12, false)
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.PatientID,
		req.AgentID,
		req.CareType,
		req.DurationValue,
		req.DurationUnit,
		req.BudgetMinCents,
		req.BudgetMaxCents,
		req.BudgetCents,
		req.MarketplaceReady,
		req.Status,
		req.PaymentStatus,
	)
	created, err := scanRequest(row)
	if err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (CareRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM care_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CareRequest{}, ErrNotFound
		}
		return CareRequest{}, fmt.Errorf("carerequest: get: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (CareRequest, error) {
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM care_requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CareRequest{}, ErrNotFound
		}
		return CareRequest{}, fmt.Errorf("carerequest: get for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]CareRequest, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.PatientID != "" {
		where = append(where, fmt.Sprintf("patient_id=$%d", len(args)+1))
		args = append(args, filters.PatientID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.MarketplaceReady != nil {
		where = append(where, fmt.Sprintf("marketplace_ready=$%d", len(args)+1))
		args = append(args, *filters.MarketplaceReady)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM care_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		requestColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("carerequest: query list: %w", err)
	}
	defer rows.Close()

	list := []CareRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("carerequest: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("carerequest: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM care_requests%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("carerequest: count list: %w", err)
	}

	return list, total, nil
}

// ApplyTransition writes the mutable transition fields guarded by a
// compare-and-set on the previously observed status. Losing the race
// surfaces ErrConflict; the caller owns the retry.
func (r *PGRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, req CareRequest, expected Status) (CareRequest, error) {
	const query = `
        UPDATE care_requests
        SET status = $2,
            payment_status = $3,
            assigned_nurse_id = $4,
            assignment_comment = $5,
            nurse_notified = $6,
            updated_at = now()
        WHERE id = $1 AND status = $7
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.Status,
		req.PaymentStatus,
		req.AssignedNurseID,
		req.AssignmentComment,
		req.NurseNotified,
		expected,
	)
	updated, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CareRequest{}, ErrConflict
		}
		return CareRequest{}, fmt.Errorf("carerequest: apply transition: %w", err)
	}
	return updated, nil
}

// CapturePayment flips pending -> paid. Guarded on the current payment
// status so a duplicate capture reports the conflict instead of rewriting.
func (r *PGRepository) CapturePayment(ctx context.Context, tx pgx.Tx, id string) (CareRequest, error) {
	const query = `
        UPDATE care_requests
        SET payment_status = 'paid',
            updated_at = now()
        WHERE id = $1 AND payment_status = 'pending'
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query, id)
	updated, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CareRequest{}, ErrConflict
		}
		return CareRequest{}, fmt.Errorf("carerequest: capture payment: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) UpdateAgent(ctx context.Context, tx pgx.Tx, id string, newAgentID string) (CareRequest, error) {
	const query = `
        UPDATE care_requests
        SET agent_id = $2,
            updated_at = now()
        WHERE id = $1
        RETURNING ` + requestColumns

	row := tx.QueryRow(ctx, query, id, newAgentID)
	updated, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CareRequest{}, ErrNotFound
		}
		return CareRequest{}, fmt.Errorf("carerequest: update agent: %w", err)
	}
	return updated, nil
}

func scanRequest(row pgx.Row) (CareRequest, error) {
	var req CareRequest
	return req, row.Scan(
		&req.ID,
		&req.PatientID,
		&req.AgentID,
		&req.CareType,
		&req.DurationValue,
		&req.DurationUnit,
		&req.BudgetMinCents,
		&req.BudgetMaxCents,
		&req.BudgetCents,
		&req.MarketplaceReady,
		&req.AssignedNurseID,
		&req.Status,
		&req.PaymentStatus,
		&req.AssignmentComment,
		&req.NurseNotified,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}
