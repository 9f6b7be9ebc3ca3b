package carerequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"careflow/assignment"
	"careflow/billing"
	"careflow/journal"
	"careflow/ledger"
	"careflow/nurse"
	"careflow/outbox"
	"careflow/settlement"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NurseReader provides the nurse snapshots the validator consumes.
type NurseReader interface {
	GetByID(ctx context.Context, id string) (nurse.Profile, error)
}

// JournalStore appends audit rows in-transaction and serves history reads.
type JournalStore interface {
	Append(ctx context.Context, tx pgx.Tx, ev journal.Event) error
	ListByRequest(ctx context.Context, requestID string) ([]journal.Event, error)
}

// OutboxWriter enqueues post-commit notification messages.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// LedgerStore writes the one settlement row per completed request.
type LedgerStore interface {
	Create(ctx context.Context, tx pgx.Tx, rec ledger.EarningsRecord) (ledger.EarningsRecord, error)
	GetByRequest(ctx context.Context, requestID string) (ledger.EarningsRecord, error)
}

// BillingStore maintains the per-patient financial mirror.
type BillingStore interface {
	GetInTx(ctx context.Context, tx pgx.Tx, patientID string) (billing.Financials, bool, error)
	Upsert(ctx context.Context, tx pgx.Tx, patientID string, f billing.Financials) error
	Clear(ctx context.Context, tx pgx.Tx, patientID string) error
}

// Collaborators bundles the stores the controller writes through.
type Collaborators struct {
	Nurses  NurseReader
	Journal JournalStore
	Outbox  OutboxWriter
	Ledger  LedgerStore
	Billing BillingStore
}

// Service is the lifecycle controller. Every mutation is one transaction:
// state update, journal append, outbox enqueue, and (on completion) the
// ledger write commit together or not at all.
type Service struct {
	pool        TxBeginner
	repo        Repository
	nurses      NurseReader
	journal     JournalStore
	outbox      OutboxWriter
	ledger      LedgerStore
	billing     BillingStore
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, deps Collaborators) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		nurses:      deps.Nurses,
		journal:     deps.Journal,
		outbox:      deps.Outbox,
		ledger:      deps.Ledger,
		billing:     deps.Billing,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TransitionParams carries one requested status change.
type TransitionParams struct {
	RequestID       string
	NextStatus      Status
	Actor           assignment.Actor
	Comment         *string
	AssignedNurseID *string
	Commission      *CommissionSpec
}

// Transition moves a care request to its next lifecycle stage. The coupled
// status/payment/assignee invariants are checked against the locked row and
// the final UPDATE re-checks the status it read, so a concurrent transition
// loses with ErrConflict instead of overwriting.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (CareRequest, error) {
	if params.RequestID == "" {
		return CareRequest{}, fmt.Errorf("carerequest: missing request id")
	}
	if !validStatus(params.NextStatus) {
		return CareRequest{}, fmt.Errorf("carerequest: unknown status %q", params.NextStatus)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return CareRequest{}, err
	}

	if req.Status.Terminal() {
		return CareRequest{}, fmt.Errorf("%w: status %s", ErrImmutable, req.Status)
	}
	if !TransitionAllowed(req.Status, params.NextStatus) {
		return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus}
	}

	next, err := s.applyTarget(ctx, tx, req, params)
	if err != nil {
		return CareRequest{}, err
	}

	updated, err := s.repo.ApplyTransition(ctx, tx, next, req.Status)
	if err != nil {
		return CareRequest{}, err
	}

	prevStatus := string(req.Status)
	prevPayment := string(req.PaymentStatus)
	ev := journal.Event{
		RequestID:             updated.ID,
		EventType:             journal.EventStatusChanged,
		PreviousStatus:        &prevStatus,
		NextStatus:            string(updated.Status),
		PreviousPaymentStatus: &prevPayment,
		NextPaymentStatus:     string(updated.PaymentStatus),
		AssignedNurseID:       updated.AssignedNurseID,
		Comment:               params.Comment,
		ActorID:               actorID(params.Actor),
		ActorRole:             string(params.Actor.Role),
	}
	if err := s.journal.Append(ctx, tx, ev); err != nil {
		return CareRequest{}, err
	}

	payload := map[string]any{
		"request_id": updated.ID,
		"previous":   prevStatus,
		"next":       string(updated.Status),
	}
	if updated.AssignedNurseID != nil {
		payload["nurse_id"] = *updated.AssignedNurseID
	}
	if err := s.outbox.Enqueue(ctx, tx, topicFor(updated.Status), payload); err != nil {
		return CareRequest{}, err
	}

	if updated.Status == StatusCompleted {
		if err := s.writeEarnings(ctx, tx, updated, params.Actor); err != nil {
			return CareRequest{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: commit transition: %w", err)
	}

	return updated, nil
}

// applyTarget derives the row the target state requires, running the
// assignment validator and recording the commission mirror when the
// transition implies an assignment.
func (s *Service) applyTarget(ctx context.Context, tx pgx.Tx, req CareRequest, params TransitionParams) (CareRequest, error) {
	next := req
	next.Status = params.NextStatus

	switch params.NextStatus {
	case StatusOpen:
		next.AssignedNurseID = nil
		next.AssignmentComment = nil
		next.NurseNotified = false
		next.PaymentStatus = PaymentPending

	case StatusAssigned:
		nurseID := params.AssignedNurseID
		if nurseID == nil {
			nurseID = req.AssignedNurseID
		}
		if nurseID == nil {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "assignment requires a nurse"}
		}
		if req.PaymentStatus != PaymentPending {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "payment already captured"}
		}

		newNurse := req.AssignedNurseID == nil || *req.AssignedNurseID != *nurseID
		if newNurse || params.Commission != nil {
			profile, err := s.nurses.GetByID(ctx, *nurseID)
			if err != nil {
				return CareRequest{}, fmt.Errorf("carerequest: load nurse %s: %w", *nurseID, err)
			}

			var commission *assignment.CommissionParams
			if params.Commission != nil {
				commission = &assignment.CommissionParams{NurseAmountCents: params.Commission.NurseAmountCents}
			}
			snap := assignment.RequestSnapshot{ID: req.ID, BudgetMaxCents: req.BudgetMaxCents}
			if err := assignment.Validate(params.Actor, nurseSnapshot(profile), snap, commission); err != nil {
				return CareRequest{}, err
			}

			if params.Commission != nil {
				f, err := billing.Compute(billing.CommissionSpec{
					NurseAmountCents: params.Commission.NurseAmountCents,
					CommissionType:   params.Commission.CommissionType,
					CommissionValue:  params.Commission.CommissionValue,
					ReferralPercent:  profile.ReferralPercent,
					ReferrerApproved: profile.ReferrerID != nil && profile.ReferrerApproved,
				})
				if err != nil {
					return CareRequest{}, err
				}
				if err := s.billing.Upsert(ctx, tx, req.PatientID, f); err != nil {
					return CareRequest{}, err
				}
			}
		}

		next.AssignedNurseID = nurseID
		if params.Comment != nil {
			next.AssignmentComment = params.Comment
		}
		// The outbox message enqueued for this transition is the nurse
		// notification; the flag keeps a retried assignment from firing it
		// twice.
		next.NurseNotified = true

	case StatusPaymentPending:
		if req.AssignedNurseID == nil {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "no nurse assigned"}
		}
		if req.PaymentStatus != PaymentPending {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "payment already captured"}
		}

	case StatusActive, StatusCompleted:
		if req.AssignedNurseID == nil {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "no nurse assigned"}
		}
		if req.PaymentStatus != PaymentPaid {
			return CareRequest{}, &InvalidTransitionError{From: req.Status, To: params.NextStatus, Reason: "payment not captured"}
		}

	case StatusCancelled:
		// Terminal; fields retained for audit.
	}

	return next, nil
}

// writeEarnings settles a completed request. Gross falls back in order:
// recorded nurse amount, budget max, budget min, flat budget, zero. The
// unique request_id constraint turns a duplicate completion into
// ledger.ErrDuplicate.
func (s *Service) writeEarnings(ctx context.Context, tx pgx.Tx, req CareRequest, actor assignment.Actor) error {
	f, found, err := s.billing.GetInTx(ctx, tx, req.PatientID)
	if err != nil {
		return err
	}

	var gross int64
	switch {
	case found && f.NurseAmountCents != nil:
		gross = *f.NurseAmountCents
	case req.BudgetMaxCents > 0:
		gross = req.BudgetMaxCents
	case req.BudgetMinCents > 0:
		gross = req.BudgetMinCents
	case req.BudgetCents > 0:
		gross = req.BudgetCents
	}

	var platformFee, referralFee int64
	if found {
		platformFee = f.CommissionAmountCents
		referralFee = f.ReferralAmountCents
	}

	rec := ledger.EarningsRecord{
		RequestID:        req.ID,
		NurseID:          *req.AssignedNurseID,
		PatientID:        req.PatientID,
		GrossAmountCents: gross,
		PlatformFeeCents: platformFee,
		ReferralFeeCents: referralFee,
		NetAmountCents:   settlement.NetAmount(gross, platformFee, referralFee),
		GeneratedBy:      actor.ID,
	}
	if _, err := s.ledger.Create(ctx, tx, rec); err != nil {
		return err
	}
	return nil
}

// RecordPaymentCapture applies the external payment collaborator's capture
// event. Idempotent: capturing an already-paid request is a no-op.
func (s *Service) RecordPaymentCapture(ctx context.Context, requestID string, actor assignment.Actor) (CareRequest, error) {
	if requestID == "" {
		return CareRequest{}, fmt.Errorf("carerequest: missing request id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return CareRequest{}, err
	}
	if req.Status.Terminal() {
		return CareRequest{}, fmt.Errorf("%w: status %s", ErrImmutable, req.Status)
	}
	if req.PaymentStatus == PaymentPaid {
		return req, nil
	}
	if req.Status != StatusAssigned && req.Status != StatusPaymentPending {
		return CareRequest{}, &InvalidTransitionError{From: req.Status, To: req.Status, Reason: "payment capture requires an assigned request"}
	}

	updated, err := s.repo.CapturePayment(ctx, tx, requestID)
	if err != nil {
		return CareRequest{}, err
	}

	status := string(req.Status)
	prevPayment := string(PaymentPending)
	ev := journal.Event{
		RequestID:             updated.ID,
		EventType:             journal.EventPaymentCaptured,
		PreviousStatus:        &status,
		NextStatus:            string(updated.Status),
		PreviousPaymentStatus: &prevPayment,
		NextPaymentStatus:     string(updated.PaymentStatus),
		AssignedNurseID:       updated.AssignedNurseID,
		ActorID:               actorID(actor),
		ActorRole:             string(actor.Role),
	}
	if err := s.journal.Append(ctx, tx, ev); err != nil {
		return CareRequest{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicPaymentCaptured, map[string]any{
		"request_id": updated.ID,
		"status":     string(updated.Status),
	}); err != nil {
		return CareRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: commit payment capture: %w", err)
	}

	return updated, nil
}

// TransferParams moves a request to a different brokering agent.
type TransferParams struct {
	RequestID   string
	NewAgentID  string
	MarginType  settlement.RateType
	MarginValue float64
	Actor       assignment.Actor
}

// TransferAgent re-brokers a request under a new agent with the same
// atomicity as any transition. The assigned nurse is re-validated against
// the receiving agent; on mismatch the financial mirror is cleared in the
// same transaction rather than left stale.
func (s *Service) TransferAgent(ctx context.Context, params TransferParams) (CareRequest, error) {
	if params.RequestID == "" || params.NewAgentID == "" {
		return CareRequest{}, fmt.Errorf("carerequest: transfer requires request and agent ids")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return CareRequest{}, err
	}
	if req.Status.Terminal() {
		return CareRequest{}, fmt.Errorf("%w: status %s", ErrImmutable, req.Status)
	}

	f, found, err := s.billing.GetInTx(ctx, tx, req.PatientID)
	if err != nil {
		return CareRequest{}, err
	}

	cleared := false
	if req.AssignedNurseID != nil {
		profile, err := s.nurses.GetByID(ctx, *req.AssignedNurseID)
		if err != nil {
			return CareRequest{}, fmt.Errorf("carerequest: load nurse %s: %w", *req.AssignedNurseID, err)
		}
		newAgent := assignment.Actor{ID: params.NewAgentID, Role: assignment.RoleAgent}
		if err := assignment.ValidateTransfer(newAgent, nurseSnapshot(profile)); err != nil {
			var rej *assignment.RejectionError
			if !errors.As(err, &rej) {
				return CareRequest{}, err
			}
			if err := s.billing.Clear(ctx, tx, req.PatientID); err != nil {
				return CareRequest{}, err
			}
			cleared = true

			prevStatus := string(req.Status)
			prevPayment := string(req.PaymentStatus)
			if err := s.journal.Append(ctx, tx, journal.Event{
				RequestID:             req.ID,
				EventType:             journal.EventFinancialsCleared,
				PreviousStatus:        &prevStatus,
				NextStatus:            string(req.Status),
				PreviousPaymentStatus: &prevPayment,
				NextPaymentStatus:     string(req.PaymentStatus),
				AssignedNurseID:       req.AssignedNurseID,
				ActorID:               actorID(params.Actor),
				ActorRole:             string(params.Actor.Role),
				Metadata:              map[string]any{"patient_id": req.PatientID},
			}); err != nil {
				return CareRequest{}, err
			}
		}
	}

	var marginCents int64
	if params.MarginType != "" {
		var nurseAmount *int64
		if found && !cleared {
			nurseAmount = f.NurseAmountCents
		}
		marginCents, err = settlement.ComputeTransferMargin(nurseAmount, params.MarginType, params.MarginValue)
		if err != nil {
			return CareRequest{}, err
		}
		if found && !cleared {
			f.MarginType = params.MarginType
			f.MarginValue = params.MarginValue
			f.MarginAmountCents = marginCents
			if err := s.billing.Upsert(ctx, tx, req.PatientID, f); err != nil {
				return CareRequest{}, err
			}
		}
	}

	updated, err := s.repo.UpdateAgent(ctx, tx, req.ID, params.NewAgentID)
	if err != nil {
		return CareRequest{}, err
	}

	status := string(req.Status)
	payment := string(req.PaymentStatus)
	metadata := map[string]any{
		"to_agent_id":        params.NewAgentID,
		"margin_cents":       marginCents,
		"financials_cleared": cleared,
	}
	if req.AgentID != nil {
		metadata["from_agent_id"] = *req.AgentID
	}
	ev := journal.Event{
		RequestID:             updated.ID,
		EventType:             journal.EventAgentTransferred,
		PreviousStatus:        &status,
		NextStatus:            string(updated.Status),
		PreviousPaymentStatus: &payment,
		NextPaymentStatus:     string(updated.PaymentStatus),
		AssignedNurseID:       updated.AssignedNurseID,
		ActorID:               actorID(params.Actor),
		ActorRole:             string(params.Actor.Role),
		Metadata:              metadata,
	}
	if err := s.journal.Append(ctx, tx, ev); err != nil {
		return CareRequest{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicAgentTransferred, map[string]any{
		"request_id":         updated.ID,
		"new_agent_id":       params.NewAgentID,
		"financials_cleared": cleared,
	}); err != nil {
		return CareRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CareRequest{}, fmt.Errorf("carerequest: commit transfer: %w", err)
	}

	return updated, nil
}

// ClearFinancials wipes the financial mirror for a patient. Idempotent.
func (s *Service) ClearFinancials(ctx context.Context, patientID string) error {
	if patientID == "" {
		return fmt.Errorf("carerequest: missing patient id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("carerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.billing.Clear(ctx, tx, patientID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("carerequest: commit clear financials: %w", err)
	}
	return nil
}

// Get returns the current state of one request.
func (s *Service) Get(ctx context.Context, id string) (CareRequest, error) {
	return s.repo.Get(ctx, id)
}

// List returns requests matching the filters plus the total count.
func (s *Service) List(ctx context.Context, filters Filters) ([]CareRequest, int, error) {
	return s.repo.List(ctx, filters)
}

// History returns the full lifecycle journal of one request,
// chronologically.
func (s *Service) History(ctx context.Context, requestID string) ([]journal.Event, error) {
	return s.journal.ListByRequest(ctx, requestID)
}

// Earnings returns the settlement record of a completed request.
func (s *Service) Earnings(ctx context.Context, requestID string) (ledger.EarningsRecord, error) {
	return s.ledger.GetByRequest(ctx, requestID)
}

func topicFor(status Status) string {
	switch status {
	case StatusOpen:
		return outbox.TopicRequestReopened
	case StatusAssigned:
		return outbox.TopicRequestAssigned
	case StatusPaymentPending:
		return outbox.TopicRequestPaymentPending
	case StatusActive:
		return outbox.TopicRequestActive
	case StatusCompleted:
		return outbox.TopicRequestCompleted
	default:
		return outbox.TopicRequestCancelled
	}
}

func nurseSnapshot(p nurse.Profile) assignment.NurseSnapshot {
	return assignment.NurseSnapshot{
		ID:          p.ID,
		Status:      assignment.NurseStatus(p.Status),
		IsAvailable: p.IsAvailable,
		AgentID:     p.AgentID,
	}
}

func actorID(a assignment.Actor) *string {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}
