package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository appends to and reads the lifecycle_events table. The table is
// append-only; no update or delete exists anywhere in this package and a
// storage trigger rejects both as defense in depth.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes one event inside the caller's transaction.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	if ev.RequestID == "" {
		return fmt.Errorf("journal: missing request id")
	}
	if ev.EventType == "" {
		return fmt.Errorf("journal: missing event type")
	}

	var metadata []byte
	if ev.Metadata != nil {
		var err error
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("journal: marshal metadata: %w", err)
		}
	}

	const q = `
        INSERT INTO lifecycle_events
            (request_id, event_type, previous_status, next_status,
             previous_payment_status, next_payment_status,
             assigned_nurse_id, comment, actor_id, actor_role, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `
	if _, err := tx.Exec(ctx, q,
		ev.RequestID,
		ev.EventType,
		ev.PreviousStatus,
		ev.NextStatus,
		ev.PreviousPaymentStatus,
		ev.NextPaymentStatus,
		ev.AssignedNurseID,
		ev.Comment,
		ev.ActorID,
		ev.ActorRole,
		metadata,
	); err != nil {
		return fmt.Errorf("journal: append event: %w", err)
	}
	return nil
}

// Bootstrap inserts a bootstrap_snapshot row for every care request that has
// no journal history yet. Safe to run repeatedly; requests with any event
// are skipped.
func (r *Repository) Bootstrap(ctx context.Context) (int64, error) {
	const q = `
        INSERT INTO lifecycle_events
            (request_id, event_type, previous_status, next_status,
             previous_payment_status, next_payment_status, assigned_nurse_id, actor_role)
        SELECT cr.id, 'bootstrap_snapshot', NULL, cr.status,
               NULL, cr.payment_status, cr.assigned_nurse_id, 'system'
        FROM care_requests cr
        WHERE NOT EXISTS (
            SELECT 1 FROM lifecycle_events e WHERE e.request_id = cr.id
        )
    `
	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("journal: bootstrap snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByRequest returns the full history of one request in chronological
// order.
func (r *Repository) ListByRequest(ctx context.Context, requestID string) ([]Event, error) {
	const q = selectEvents + ` WHERE request_id = $1 ORDER BY id ASC`
	return r.query(ctx, q, requestID)
}

// ListByType returns the most recent events of one type across requests.
func (r *Repository) ListByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = selectEvents + ` WHERE event_type = $1 ORDER BY id DESC LIMIT $2`
	return r.query(ctx, q, eventType, limit)
}

const selectEvents = `
        SELECT id, request_id, event_type, previous_status, next_status,
               previous_payment_status, next_payment_status,
               assigned_nurse_id, comment, actor_id, actor_role, metadata, created_at
        FROM lifecycle_events`

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev       Event
		metadata []byte
	)
	if err := row.Scan(
		&ev.ID,
		&ev.RequestID,
		&ev.EventType,
		&ev.PreviousStatus,
		&ev.NextStatus,
		&ev.PreviousPaymentStatus,
		&ev.NextPaymentStatus,
		&ev.AssignedNurseID,
		&ev.Comment,
		&ev.ActorID,
		&ev.ActorRole,
		&metadata,
		&ev.CreatedAt,
	); err != nil {
		return Event{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return ev, nil
}
