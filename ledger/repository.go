package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicate signals a second earnings record for the same request.
	// Completion runs at most once; hitting this is a bug signal upstream.
	ErrDuplicate = errors.New("ledger: earnings record already exists for request")
	// ErrNotFound is returned when no record exists for the identifier.
	ErrNotFound = errors.New("ledger: record not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the settlement row inside the caller's transaction. The
// unique constraint on request_id is the idempotence guard for completion
// retries.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, rec EarningsRecord) (EarningsRecord, error) {
	if rec.RequestID == "" {
		return EarningsRecord{}, fmt.Errorf("ledger: missing request id")
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	if rec.PayoutStatus == "" {
		rec.PayoutStatus = PayoutPending
	}

	const q = `
        INSERT INTO earnings_records
            (request_id, nurse_id, patient_id, gross_amount_cents, platform_fee_cents,
             referral_fee_cents, net_amount_cents, currency, payout_status, generated_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, request_id, nurse_id, patient_id, gross_amount_cents, platform_fee_cents,
                  referral_fee_cents, net_amount_cents, currency, payout_status,
                  payout_reference, notes, generated_by, generated_at, updated_at
    `
	row := tx.QueryRow(ctx, q,
		rec.RequestID,
		rec.NurseID,
		rec.PatientID,
		rec.GrossAmountCents,
		rec.PlatformFeeCents,
		rec.ReferralFeeCents,
		rec.NetAmountCents,
		rec.Currency,
		rec.PayoutStatus,
		rec.GeneratedBy,
	)
	created, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return EarningsRecord{}, ErrDuplicate
		}
		return EarningsRecord{}, fmt.Errorf("ledger: insert record: %w", err)
	}
	return created, nil
}

// GetByRequest fetches the settlement row for a completed request.
func (r *Repository) GetByRequest(ctx context.Context, requestID string) (EarningsRecord, error) {
	const q = selectRecord + ` WHERE request_id = $1`
	row := r.pool.QueryRow(ctx, q, requestID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EarningsRecord{}, ErrNotFound
		}
		return EarningsRecord{}, fmt.Errorf("ledger: get by request: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks one record by primary key inside the caller's
// transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (EarningsRecord, error) {
	const q = selectRecord + ` WHERE id = $1 FOR UPDATE`
	row := tx.QueryRow(ctx, q, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EarningsRecord{}, ErrNotFound
		}
		return EarningsRecord{}, fmt.Errorf("ledger: get for update: %w", err)
	}
	return rec, nil
}

// UpdatePayout persists a payout status advance. Only payout_status,
// payout_reference, and notes are writable after creation.
func (r *Repository) UpdatePayout(ctx context.Context, tx pgx.Tx, id string, status PayoutStatus, reference, notes *string) (EarningsRecord, error) {
	const q = `
        UPDATE earnings_records
        SET payout_status = $2,
            payout_reference = COALESCE($3, payout_reference),
            notes = COALESCE($4, notes),
            updated_at = now()
        WHERE id = $1
        RETURNING id, request_id, nurse_id, patient_id, gross_amount_cents, platform_fee_cents,
                  referral_fee_cents, net_amount_cents, currency, payout_status,
                  payout_reference, notes, generated_by, generated_at, updated_at
    `
	row := tx.QueryRow(ctx, q, id, status, reference, notes)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EarningsRecord{}, ErrNotFound
		}
		return EarningsRecord{}, fmt.Errorf("ledger: update payout: %w", err)
	}
	return rec, nil
}

const selectRecord = `
        SELECT id, request_id, nurse_id, patient_id, gross_amount_cents, platform_fee_cents,
               referral_fee_cents, net_amount_cents, currency, payout_status,
               payout_reference, notes, generated_by, generated_at, updated_at
        FROM earnings_records`

func scanRecord(row pgx.Row) (EarningsRecord, error) {
	var rec EarningsRecord
	return rec, row.Scan(
		&rec.ID,
		&rec.RequestID,
		&rec.NurseID,
		&rec.PatientID,
		&rec.GrossAmountCents,
		&rec.PlatformFeeCents,
		&rec.ReferralFeeCents,
		&rec.NetAmountCents,
		&rec.Currency,
		&rec.PayoutStatus,
		&rec.PayoutReference,
		&rec.Notes,
		&rec.GeneratedBy,
		&rec.GeneratedAt,
		&rec.UpdatedAt,
	)
}
