package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestUpdatePayout_AllowedAdvance(t *testing.T) {
	pool := &fakePool{}
	repo := &fakePayoutRepo{record: EarningsRecord{ID: "er-1", PayoutStatus: PayoutPending}}
	svc := NewService(pool, repo)

	updated, err := svc.UpdatePayout(context.Background(), UpdatePayoutParams{
		RecordID: "er-1",
		Next:     PayoutApproved,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.PayoutStatus != PayoutApproved {
		t.Fatalf("expected approved, got %s", updated.PayoutStatus)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestUpdatePayout_RejectsSkippedStage(t *testing.T) {
	pool := &fakePool{}
	repo := &fakePayoutRepo{record: EarningsRecord{ID: "er-1", PayoutStatus: PayoutPending}}
	svc := NewService(pool, repo)

	_, err := svc.UpdatePayout(context.Background(), UpdatePayoutParams{
		RecordID: "er-1",
		Next:     PayoutPaid,
	})
	if !errors.Is(err, ErrInvalidPayoutTransition) {
		t.Fatalf("expected ErrInvalidPayoutTransition, got %v", err)
	}
	if repo.updated {
		t.Error("expected no persistence on rejected transition")
	}
	if pool.tx.committed {
		t.Error("expected rollback, not commit")
	}
}

func TestUpdatePayout_TerminalStates(t *testing.T) {
	for _, terminal := range []PayoutStatus{PayoutPaid, PayoutCancelled} {
		pool := &fakePool{}
		repo := &fakePayoutRepo{record: EarningsRecord{ID: "er-1", PayoutStatus: terminal}}
		svc := NewService(pool, repo)

		for _, next := range []PayoutStatus{PayoutPending, PayoutApproved, PayoutPaid, PayoutOnHold, PayoutCancelled} {
			_, err := svc.UpdatePayout(context.Background(), UpdatePayoutParams{RecordID: "er-1", Next: next})
			if !errors.Is(err, ErrInvalidPayoutTransition) {
				t.Fatalf("expected terminal %s to reject %s, got %v", terminal, next, err)
			}
		}
	}
}

func TestUpdatePayout_HoldAndResume(t *testing.T) {
	pool := &fakePool{}
	repo := &fakePayoutRepo{record: EarningsRecord{ID: "er-1", PayoutStatus: PayoutApproved}}
	svc := NewService(pool, repo)

	held, err := svc.UpdatePayout(context.Background(), UpdatePayoutParams{RecordID: "er-1", Next: PayoutOnHold})
	if err != nil {
		t.Fatalf("hold: unexpected error: %v", err)
	}
	if held.PayoutStatus != PayoutOnHold {
		t.Fatalf("expected on_hold, got %s", held.PayoutStatus)
	}

	repo.record = held
	resumed, err := svc.UpdatePayout(context.Background(), UpdatePayoutParams{RecordID: "er-1", Next: PayoutApproved})
	if err != nil {
		t.Fatalf("resume: unexpected error: %v", err)
	}
	if resumed.PayoutStatus != PayoutApproved {
		t.Fatalf("expected approved, got %s", resumed.PayoutStatus)
	}
}

type fakePayoutRepo struct {
	record  EarningsRecord
	updated bool
}

func (f *fakePayoutRepo) GetForUpdate(context.Context, pgx.Tx, string) (EarningsRecord, error) {
	return f.record, nil
}

func (f *fakePayoutRepo) UpdatePayout(_ context.Context, _ pgx.Tx, _ string, status PayoutStatus, reference, notes *string) (EarningsRecord, error) {
	f.updated = true
	rec := f.record
	rec.PayoutStatus = status
	if reference != nil {
		rec.PayoutReference = reference
	}
	if notes != nil {
		rec.Notes = notes
	}
	return rec, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
