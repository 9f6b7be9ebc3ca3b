package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careflow/assignment"
	"careflow/carerequest"
	"careflow/ledger"
)

// tolerable reports whether an error is an expected outcome under
// contention rather than a harness failure.
func tolerable(err error) bool {
	var (
		invalid  *carerequest.InvalidTransitionError
		rejected *assignment.RejectionError
	)
	switch {
	case err == nil:
		return true
	case errors.Is(err, carerequest.ErrConflict),
		errors.Is(err, carerequest.ErrImmutable),
		errors.Is(err, carerequest.ErrNotFound),
		errors.Is(err, ledger.ErrDuplicate),
		errors.As(err, &invalid),
		errors.As(err, &rejected):
		return true
	}
	return false
}

// pickByStatus returns a random request id in the given status, or empty.
func pickByStatus(ctx context.Context, pool *pgxpool.Pool, status string) (string, error) {
	var id string
	err := pool.QueryRow(ctx,
		`SELECT id FROM care_requests WHERE status = $1 ORDER BY random() LIMIT 1`, status,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Creator keeps feeding new open requests into the pool of work.
func Creator(ctx context.Context, svc *carerequest.Service, patientID string, agentID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Create(ctx, carerequest.CreateParams{
			PatientID:      patientID,
			AgentID:        &agentID,
			CareType:       "elder_care",
			DurationValue:  1 + rand.Intn(60),
			DurationUnit:   "days",
			BudgetMaxCents: int64(500000 + rand.Intn(2000000)),
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("creator: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Assigner races to move open requests to assigned, recording a commission.
// Under contention most attempts lose with a conflict, which is the point.
func Assigner(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, nurseID, agentID string, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: agentID, Role: assignment.RoleAgent}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickByStatus(ctx, pool, "open")
		if err != nil {
			return fmt.Errorf("assigner pick: %w", err)
		}
		if id != "" {
			_, err := svc.Transition(ctx, carerequest.TransitionParams{
				RequestID:       id,
				NextStatus:      carerequest.StatusAssigned,
				Actor:           actor,
				AssignedNurseID: &nurseID,
				Commission: &carerequest.CommissionSpec{
					NurseAmountCents: int64(100000 + rand.Intn(400000)),
					CommissionType:   "percent",
					CommissionValue:  float64(5 + rand.Intn(15)),
				},
			})
			if !tolerable(err) {
				return fmt.Errorf("assigner transition: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Reopener occasionally sends assigned requests back to open, racing the
// payment capturer.
func Reopener(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, adminID string, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: adminID, Role: assignment.RoleAdmin}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			id, err := pickByStatus(ctx, pool, "assigned")
			if err != nil {
				return fmt.Errorf("reopener pick: %w", err)
			}
			if id != "" {
				_, err := svc.Transition(ctx, carerequest.TransitionParams{
					RequestID:  id,
					NextStatus: carerequest.StatusOpen,
					Actor:      actor,
				})
				if !tolerable(err) {
					return fmt.Errorf("reopener transition: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// PaymentCapturer plays the external payment collaborator reporting capture.
func PaymentCapturer(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: "payments", Role: assignment.RoleAdmin}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickByStatus(ctx, pool, "assigned")
		if err != nil {
			return fmt.Errorf("capturer pick: %w", err)
		}
		if id != "" {
			if _, err := svc.RecordPaymentCapture(ctx, id, actor); !tolerable(err) {
				return fmt.Errorf("capturer: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Activator moves paid assigned requests to active.
func Activator(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, adminID string, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: adminID, Role: assignment.RoleAdmin}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickByStatus(ctx, pool, "assigned")
		if err != nil {
			return fmt.Errorf("activator pick: %w", err)
		}
		if id != "" {
			_, err := svc.Transition(ctx, carerequest.TransitionParams{
				RequestID:  id,
				NextStatus: carerequest.StatusActive,
				Actor:      actor,
			})
			if !tolerable(err) {
				return fmt.Errorf("activator transition: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Completer settles active requests. Duplicate completions must surface as
// ledger.ErrDuplicate, never as a second earnings row.
func Completer(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, adminID string, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: adminID, Role: assignment.RoleAdmin}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, err := pickByStatus(ctx, pool, "active")
		if err != nil {
			return fmt.Errorf("completer pick: %w", err)
		}
		if id != "" {
			_, err := svc.Transition(ctx, carerequest.TransitionParams{
				RequestID:  id,
				NextStatus: carerequest.StatusCompleted,
				Actor:      actor,
			})
			if !tolerable(err) {
				return fmt.Errorf("completer transition: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Canceller randomly cancels requests at any non-terminal stage, including
// attempts against terminal ones to exercise the immutability guard.
func Canceller(ctx context.Context, pool *pgxpool.Pool, svc *carerequest.Service, adminID string, stop <-chan struct{}) error {
	actor := assignment.Actor{ID: adminID, Role: assignment.RoleAdmin}
	statuses := []string{"open", "assigned", "payment_pending", "active", "completed"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(6) == 0 {
			id, err := pickByStatus(ctx, pool, statuses[rand.Intn(len(statuses))])
			if err != nil {
				return fmt.Errorf("canceller pick: %w", err)
			}
			if id != "" {
				_, err := svc.Transition(ctx, carerequest.TransitionParams{
					RequestID:  id,
					NextStatus: carerequest.StatusCancelled,
					Actor:      actor,
				})
				if !tolerable(err) {
					return fmt.Errorf("canceller transition: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them sent, with random simulated delivery failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random delivery failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='sent', sent_at=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
