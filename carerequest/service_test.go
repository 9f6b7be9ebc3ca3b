package carerequest

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"careflow/assignment"
	"careflow/billing"
	"careflow/journal"
	"careflow/ledger"
	"careflow/nurse"
	"careflow/settlement"
)

var (
	agentActor = assignment.Actor{ID: "agent-1", Role: assignment.RoleAgent}
	adminActor = assignment.Actor{ID: "admin-1", Role: assignment.RoleAdmin}
)

func newFixture() (*Service, *fixture) {
	agent := "agent-1"
	f := &fixture{
		pool: &fakePool{},
		repo: &fakeRepo{
			req: CareRequest{
				ID:             "req-1",
				PatientID:      "patient-1",
				AgentID:        &agent,
				CareType:       "elder_care",
				DurationValue:  30,
				DurationUnit:   "days",
				BudgetMaxCents: 2000000,
				Status:         StatusOpen,
				PaymentStatus:  PaymentPending,
			},
		},
		nurses: &fakeNurses{profiles: map[string]nurse.Profile{
			"nurse-x": {ID: "nurse-x", Status: "approved", AgentID: &agent},
		}},
		journal: &fakeJournal{},
		outbox:  &fakeOutbox{},
		ledger:  &fakeLedger{},
		billing: &fakeBilling{mirrors: map[string]billing.Financials{}},
	}
	svc := NewService(f.pool, f.repo, Collaborators{
		Nurses:  f.nurses,
		Journal: f.journal,
		Outbox:  f.outbox,
		Ledger:  f.ledger,
		Billing: f.billing,
	})
	return svc, f
}

func TestTransition_AssignWithCommission(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"

	updated, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:       "req-1",
		NextStatus:      StatusAssigned,
		Actor:           agentActor,
		AssignedNurseID: &nurseID,
		Commission: &CommissionSpec{
			NurseAmountCents: 1800000,
			CommissionType:   settlement.RatePercent,
			CommissionValue:  10,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.Status != StatusAssigned {
		t.Fatalf("expected assigned, got %s", updated.Status)
	}
	if updated.PaymentStatus != PaymentPending {
		t.Fatalf("expected payment pending, got %s", updated.PaymentStatus)
	}
	if updated.AssignedNurseID == nil || *updated.AssignedNurseID != nurseID {
		t.Fatalf("expected nurse %s, got %v", nurseID, updated.AssignedNurseID)
	}
	if !updated.NurseNotified {
		t.Error("expected nurse notification flag set")
	}

	mirror, ok := f.billing.mirrors["patient-1"]
	if !ok {
		t.Fatal("expected billing mirror recorded")
	}
	if mirror.CommissionAmountCents != 180000 {
		t.Fatalf("expected commission 180000 cents, got %d", mirror.CommissionAmountCents)
	}
	if mirror.NurseNetCents != 1620000 {
		t.Fatalf("expected nurse net 1620000 cents, got %d", mirror.NurseNetCents)
	}

	if len(f.journal.events) != 1 {
		t.Fatalf("expected one journal event, got %d", len(f.journal.events))
	}
	ev := f.journal.events[0]
	if ev.EventType != journal.EventStatusChanged {
		t.Fatalf("unexpected event type %s", ev.EventType)
	}
	if ev.PreviousStatus == nil || *ev.PreviousStatus != "open" || ev.NextStatus != "assigned" {
		t.Fatalf("unexpected status pair: %v -> %s", ev.PreviousStatus, ev.NextStatus)
	}

	if len(f.outbox.topics) != 1 || f.outbox.topics[0] != "care_request.assigned" {
		t.Fatalf("unexpected outbox topics: %v", f.outbox.topics)
	}
	if !f.pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestTransition_ActiveRequiresPayment(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	f.repo.req.Status = StatusAssigned
	f.repo.req.AssignedNurseID = &nurseID

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusActive,
		Actor:      agentActor,
	})
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if inv.Reason != "payment not captured" {
		t.Fatalf("unexpected reason %q", inv.Reason)
	}
	if len(f.journal.events) != 0 {
		t.Error("expected no journal writes on rejection")
	}
}

func TestTransition_CompletionScenario(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"

	// Assign with commission, capture payment, activate, complete.
	if _, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:       "req-1",
		NextStatus:      StatusAssigned,
		Actor:           agentActor,
		AssignedNurseID: &nurseID,
		Commission: &CommissionSpec{
			NurseAmountCents: 1800000,
			CommissionType:   settlement.RatePercent,
			CommissionValue:  10,
		},
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := svc.RecordPaymentCapture(context.Background(), "req-1", adminActor); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if f.repo.req.PaymentStatus != PaymentPaid {
		t.Fatalf("expected paid, got %s", f.repo.req.PaymentStatus)
	}

	if _, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusActive,
		Actor:      adminActor,
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusCompleted,
		Actor:      adminActor,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if f.ledger.created == nil {
		t.Fatal("expected earnings record")
	}
	rec := *f.ledger.created
	if rec.GrossAmountCents != 1800000 {
		t.Fatalf("expected gross 1800000, got %d", rec.GrossAmountCents)
	}
	if rec.PlatformFeeCents != 180000 {
		t.Fatalf("expected platform fee 180000, got %d", rec.PlatformFeeCents)
	}
	if rec.ReferralFeeCents != 0 {
		t.Fatalf("expected referral fee 0, got %d", rec.ReferralFeeCents)
	}
	if rec.NetAmountCents != 1620000 {
		t.Fatalf("expected net 1620000, got %d", rec.NetAmountCents)
	}
}

func TestTransition_GrossFallsBackToBudgetMax(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	f.repo.req.Status = StatusActive
	f.repo.req.AssignedNurseID = &nurseID
	f.repo.req.PaymentStatus = PaymentPaid

	if _, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusCompleted,
		Actor:      adminActor,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if f.ledger.created == nil {
		t.Fatal("expected earnings record")
	}
	if f.ledger.created.GrossAmountCents != 2000000 {
		t.Fatalf("expected budget max fallback 2000000, got %d", f.ledger.created.GrossAmountCents)
	}
	if f.ledger.created.NetAmountCents != 2000000 {
		t.Fatalf("expected net 2000000, got %d", f.ledger.created.NetAmountCents)
	}
}

func TestTransition_TerminalImmutability(t *testing.T) {
	all := []Status{StatusOpen, StatusAssigned, StatusPaymentPending, StatusActive, StatusCompleted, StatusCancelled}

	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		for _, next := range all {
			svc, f := newFixture()
			nurseID := "nurse-x"
			f.repo.req.Status = terminal
			f.repo.req.AssignedNurseID = &nurseID

			_, err := svc.Transition(context.Background(), TransitionParams{
				RequestID:  "req-1",
				NextStatus: next,
				Actor:      adminActor,
			})
			if !errors.Is(err, ErrImmutable) {
				t.Fatalf("expected ErrImmutable for %s -> %s, got %v", terminal, next, err)
			}
		}
	}
}

func TestTransition_IllegalEdge(t *testing.T) {
	svc, _ := newFixture()

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusActive,
		Actor:      adminActor,
	})
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError for open -> active, got %v", err)
	}
	if inv.From != StatusOpen || inv.To != StatusActive {
		t.Fatalf("unexpected edge %s -> %s", inv.From, inv.To)
	}
}

func TestTransition_AssignmentRejectedMutatesNothing(t *testing.T) {
	svc, f := newFixture()
	f.nurses.profiles["nurse-x"] = nurse.Profile{ID: "nurse-x", Status: "pending"}
	nurseID := "nurse-x"

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:       "req-1",
		NextStatus:      StatusAssigned,
		Actor:           agentActor,
		AssignedNurseID: &nurseID,
	})
	var rej *assignment.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Rule != assignment.RuleNurseApproved {
		t.Fatalf("expected %s, got %s", assignment.RuleNurseApproved, rej.Rule)
	}
	if f.repo.applied {
		t.Error("expected no state mutation on rejection")
	}
	if f.pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestTransition_BudgetCeilingRejected(t *testing.T) {
	svc, _ := newFixture()
	nurseID := "nurse-x"

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:       "req-1",
		NextStatus:      StatusAssigned,
		Actor:           agentActor,
		AssignedNurseID: &nurseID,
		Commission: &CommissionSpec{
			NurseAmountCents: 2500000,
			CommissionType:   settlement.RatePercent,
			CommissionValue:  10,
		},
	})
	var rej *assignment.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Rule != assignment.RuleCommissionBound {
		t.Fatalf("expected %s, got %s", assignment.RuleCommissionBound, rej.Rule)
	}
}

func TestTransition_ReopenClearsAssignment(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	comment := "original assignment"
	f.repo.req.Status = StatusAssigned
	f.repo.req.AssignedNurseID = &nurseID
	f.repo.req.AssignmentComment = &comment
	f.repo.req.NurseNotified = true

	updated, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusOpen,
		Actor:      adminActor,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AssignedNurseID != nil {
		t.Error("expected nurse cleared")
	}
	if updated.AssignmentComment != nil {
		t.Error("expected comment cleared")
	}
	if updated.NurseNotified {
		t.Error("expected notification flag reset")
	}
	if updated.PaymentStatus != PaymentPending {
		t.Fatalf("expected payment pending, got %s", updated.PaymentStatus)
	}
}

func TestTransition_ConflictSurfaces(t *testing.T) {
	svc, f := newFixture()
	f.repo.conflict = true
	nurseID := "nurse-x"

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:       "req-1",
		NextStatus:      StatusAssigned,
		Actor:           agentActor,
		AssignedNurseID: &nurseID,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.pool.tx.committed {
		t.Error("expected rollback on conflict")
	}
}

func TestTransition_DuplicateEarnings(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	f.repo.req.Status = StatusActive
	f.repo.req.AssignedNurseID = &nurseID
	f.repo.req.PaymentStatus = PaymentPaid
	f.ledger.duplicate = true

	_, err := svc.Transition(context.Background(), TransitionParams{
		RequestID:  "req-1",
		NextStatus: StatusCompleted,
		Actor:      adminActor,
	})
	if !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("expected ledger.ErrDuplicate, got %v", err)
	}
	if f.pool.tx.committed {
		t.Error("expected rollback so completion and ledger stay consistent")
	}
}

func TestRecordPaymentCapture_Idempotent(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	f.repo.req.Status = StatusAssigned
	f.repo.req.AssignedNurseID = &nurseID
	f.repo.req.PaymentStatus = PaymentPaid

	req, err := svc.RecordPaymentCapture(context.Background(), "req-1", adminActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.PaymentStatus != PaymentPaid {
		t.Fatalf("expected paid, got %s", req.PaymentStatus)
	}
	if len(f.journal.events) != 0 {
		t.Error("expected no journal event on replayed capture")
	}
}

func TestRecordPaymentCapture_RequiresAssignment(t *testing.T) {
	svc, _ := newFixture()

	_, err := svc.RecordPaymentCapture(context.Background(), "req-1", adminActor)
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestTransferAgent_MismatchClearsFinancials(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	amount := int64(1800000)
	f.repo.req.Status = StatusAssigned
	f.repo.req.AssignedNurseID = &nurseID
	f.billing.mirrors["patient-1"] = billing.Financials{
		NurseAmountCents:      &amount,
		CommissionAmountCents: 180000,
	}

	updated, err := svc.TransferAgent(context.Background(), TransferParams{
		RequestID:  "req-1",
		NewAgentID: "agent-9",
		Actor:      adminActor,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AgentID == nil || *updated.AgentID != "agent-9" {
		t.Fatalf("expected agent-9, got %v", updated.AgentID)
	}
	if _, ok := f.billing.mirrors["patient-1"]; ok {
		t.Error("expected financial mirror cleared on ownership mismatch")
	}

	if len(f.journal.events) != 2 {
		t.Fatalf("expected two journal events, got %d", len(f.journal.events))
	}
	clearEv := f.journal.events[0]
	if clearEv.EventType != journal.EventFinancialsCleared {
		t.Fatalf("unexpected first event type %s", clearEv.EventType)
	}
	if patient, _ := clearEv.Metadata["patient_id"].(string); patient != "patient-1" {
		t.Fatalf("expected patient-1 in clear metadata, got %q", patient)
	}
	ev := f.journal.events[1]
	if ev.EventType != journal.EventAgentTransferred {
		t.Fatalf("unexpected event type %s", ev.EventType)
	}
	if cleared, _ := ev.Metadata["financials_cleared"].(bool); !cleared {
		t.Error("expected financials_cleared metadata")
	}
}

func TestTransferAgent_RecordsMargin(t *testing.T) {
	svc, f := newFixture()
	nurseID := "nurse-x"
	amount := int64(2000000)
	agent9 := "agent-9"
	f.repo.req.Status = StatusAssigned
	f.repo.req.AssignedNurseID = &nurseID
	f.nurses.profiles["nurse-x"] = nurse.Profile{ID: "nurse-x", Status: "approved", AgentID: &agent9}
	f.billing.mirrors["patient-1"] = billing.Financials{NurseAmountCents: &amount}

	if _, err := svc.TransferAgent(context.Background(), TransferParams{
		RequestID:   "req-1",
		NewAgentID:  "agent-9",
		MarginType:  settlement.RatePercent,
		MarginValue: 5,
		Actor:       adminActor,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mirror := f.billing.mirrors["patient-1"]
	if mirror.MarginAmountCents != 100000 {
		t.Fatalf("expected margin 100000 cents, got %d", mirror.MarginAmountCents)
	}
}

func TestClearFinancials_Idempotent(t *testing.T) {
	svc, f := newFixture()
	f.billing.mirrors["patient-1"] = billing.Financials{}

	if err := svc.ClearFinancials(context.Background(), "patient-1"); err != nil {
		t.Fatalf("first clear: %v", err)
	}
	if err := svc.ClearFinancials(context.Background(), "patient-1"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, ok := f.billing.mirrors["patient-1"]; ok {
		t.Error("expected mirror removed")
	}
}

// --- fakes ---

type fixture struct {
	pool    *fakePool
	repo    *fakeRepo
	nurses  *fakeNurses
	journal *fakeJournal
	outbox  *fakeOutbox
	ledger  *fakeLedger
	billing *fakeBilling
}

type fakeRepo struct {
	req      CareRequest
	conflict bool
	applied  bool
}

func (f *fakeRepo) Create(_ context.Context, _ pgx.Tx, req CareRequest) (CareRequest, error) {
	f.req = req
	return req, nil
}

func (f *fakeRepo) Get(context.Context, string) (CareRequest, error) {
	return f.req, nil
}

func (f *fakeRepo) GetForUpdate(context.Context, pgx.Tx, string) (CareRequest, error) {
	return f.req, nil
}

func (f *fakeRepo) List(context.Context, Filters) ([]CareRequest, int, error) {
	return []CareRequest{f.req}, 1, nil
}

func (f *fakeRepo) ApplyTransition(_ context.Context, _ pgx.Tx, req CareRequest, expected Status) (CareRequest, error) {
	if f.conflict || f.req.Status != expected {
		return CareRequest{}, ErrConflict
	}
	f.applied = true
	f.req = req
	return req, nil
}

func (f *fakeRepo) CapturePayment(context.Context, pgx.Tx, string) (CareRequest, error) {
	if f.req.PaymentStatus != PaymentPending {
		return CareRequest{}, ErrConflict
	}
	f.req.PaymentStatus = PaymentPaid
	return f.req, nil
}

func (f *fakeRepo) UpdateAgent(_ context.Context, _ pgx.Tx, _ string, newAgentID string) (CareRequest, error) {
	f.req.AgentID = &newAgentID
	return f.req, nil
}

type fakeNurses struct {
	profiles map[string]nurse.Profile
}

func (f *fakeNurses) GetByID(_ context.Context, id string) (nurse.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nurse.Profile{}, nurse.ErrNotFound
	}
	return p, nil
}

type fakeJournal struct {
	events []journal.Event
}

func (f *fakeJournal) Append(_ context.Context, _ pgx.Tx, ev journal.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeJournal) ListByRequest(context.Context, string) ([]journal.Event, error) {
	return f.events, nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeLedger struct {
	created   *ledger.EarningsRecord
	duplicate bool
}

func (f *fakeLedger) Create(_ context.Context, _ pgx.Tx, rec ledger.EarningsRecord) (ledger.EarningsRecord, error) {
	if f.duplicate || f.created != nil {
		return ledger.EarningsRecord{}, ledger.ErrDuplicate
	}
	f.created = &rec
	return rec, nil
}

func (f *fakeLedger) GetByRequest(context.Context, string) (ledger.EarningsRecord, error) {
	if f.created == nil {
		return ledger.EarningsRecord{}, ledger.ErrNotFound
	}
	return *f.created, nil
}

type fakeBilling struct {
	mirrors map[string]billing.Financials
}

func (f *fakeBilling) GetInTx(_ context.Context, _ pgx.Tx, patientID string) (billing.Financials, bool, error) {
	m, ok := f.mirrors[patientID]
	return m, ok, nil
}

func (f *fakeBilling) Upsert(_ context.Context, _ pgx.Tx, patientID string, fin billing.Financials) error {
	f.mirrors[patientID] = fin
	return nil
}

func (f *fakeBilling) Clear(_ context.Context, _ pgx.Tx, patientID string) error {
	delete(f.mirrors, patientID)
	return nil
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
