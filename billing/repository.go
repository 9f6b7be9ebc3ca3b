package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careflow/settlement"
)

// Repository persists the patient_billing mirror, one row per patient.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectFinancials = `
        SELECT nurse_amount_cents, commission_type, commission_value, commission_amount_cents,
               nurse_net_cents, referral_percent, referral_amount_cents,
               margin_type, margin_value, margin_amount_cents, updated_at
        FROM patient_billing`

// Get reads the mirror outside a transaction. The second return reports
// whether a row exists at all.
func (r *Repository) Get(ctx context.Context, patientID string) (Financials, bool, error) {
	row := r.pool.QueryRow(ctx, selectFinancials+` WHERE patient_id = $1`, patientID)
	return scanFinancials(row)
}

// GetInTx reads the mirror inside the caller's transaction with a row lock.
func (r *Repository) GetInTx(ctx context.Context, tx pgx.Tx, patientID string) (Financials, bool, error) {
	row := tx.QueryRow(ctx, selectFinancials+` WHERE patient_id = $1 FOR UPDATE`, patientID)
	return scanFinancials(row)
}

// Upsert records the mirror for a patient inside the caller's transaction.
func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, patientID string, f Financials) error {
	const q = `
        INSERT INTO patient_billing
            (patient_id, nurse_amount_cents, commission_type, commission_value, commission_amount_cents,
             nurse_net_cents, referral_percent, referral_amount_cents,
             margin_type, margin_value, margin_amount_cents, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
        ON CONFLICT (patient_id) DO UPDATE SET
            nurse_amount_cents = EXCLUDED.nurse_amount_cents,
            commission_type = EXCLUDED.commission_type,
            commission_value = EXCLUDED.commission_value,
            commission_amount_cents = EXCLUDED.commission_amount_cents,
            nurse_net_cents = EXCLUDED.nurse_net_cents,
            referral_percent = EXCLUDED.referral_percent,
            referral_amount_cents = EXCLUDED.referral_amount_cents,
            margin_type = EXCLUDED.margin_type,
            margin_value = EXCLUDED.margin_value,
            margin_amount_cents = EXCLUDED.margin_amount_cents,
            updated_at = now()
    `
	if _, err := tx.Exec(ctx, q,
		patientID,
		f.NurseAmountCents,
		nullableRate(f.CommissionType),
		f.CommissionValue,
		f.CommissionAmountCents,
		f.NurseNetCents,
		f.ReferralPercent,
		f.ReferralAmountCents,
		nullableRate(f.MarginType),
		f.MarginValue,
		f.MarginAmountCents,
	); err != nil {
		return fmt.Errorf("billing: upsert mirror: %w", err)
	}
	return nil
}

// Clear removes the mirror row. Idempotent; clearing an absent row is a
// no-op.
func (r *Repository) Clear(ctx context.Context, tx pgx.Tx, patientID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM patient_billing WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("billing: clear mirror: %w", err)
	}
	return nil
}

func nullableRate(v settlement.RateType) any {
	if v == "" {
		return nil
	}
	return string(v)
}

func scanFinancials(row pgx.Row) (Financials, bool, error) {
	var (
		f              Financials
		commissionType *string
		marginType     *string
	)
	err := row.Scan(
		&f.NurseAmountCents,
		&commissionType,
		&f.CommissionValue,
		&f.CommissionAmountCents,
		&f.NurseNetCents,
		&f.ReferralPercent,
		&f.ReferralAmountCents,
		&marginType,
		&f.MarginValue,
		&f.MarginAmountCents,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Financials{}, false, nil
		}
		return Financials{}, false, fmt.Errorf("billing: scan mirror: %w", err)
	}
	if commissionType != nil {
		f.CommissionType = settlement.RateType(*commissionType)
	}
	if marginType != nil {
		f.MarginType = settlement.RateType(*marginType)
	}
	return f, true, nil
}
