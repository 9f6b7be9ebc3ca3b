package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"careflow/assignment"
	"careflow/auth"
	"careflow/billing"
	"careflow/carerequest"
	"careflow/journal"
	"careflow/ledger"
	"careflow/nurse"
	"careflow/settlement"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

// lifecycleService is the slice of carerequest.Service the handlers need,
// extracted so tests can stub it.
type lifecycleService interface {
	Create(ctx context.Context, params carerequest.CreateParams) (carerequest.CareRequest, error)
	Get(ctx context.Context, id string) (carerequest.CareRequest, error)
	List(ctx context.Context, filters carerequest.Filters) ([]carerequest.CareRequest, int, error)
	Transition(ctx context.Context, params carerequest.TransitionParams) (carerequest.CareRequest, error)
	RecordPaymentCapture(ctx context.Context, requestID string, actor assignment.Actor) (carerequest.CareRequest, error)
	TransferAgent(ctx context.Context, params carerequest.TransferParams) (carerequest.CareRequest, error)
	History(ctx context.Context, requestID string) ([]journal.Event, error)
	Earnings(ctx context.Context, requestID string) (ledger.EarningsRecord, error)
	ClearFinancials(ctx context.Context, patientID string) error
}

type payoutService interface {
	UpdatePayout(ctx context.Context, params ledger.UpdatePayoutParams) (ledger.EarningsRecord, error)
}

// billingService maintains the per-patient financial mirror for
// agent-brokered flows outside the request lifecycle.
type billingService interface {
	Get(ctx context.Context, patientID string) (billing.Financials, bool, error)
	RecordCommission(ctx context.Context, patientID string, spec billing.CommissionSpec) (billing.Financials, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Server wires HTTP routes to the domain services.
type Server struct {
	authService    authService
	nurseService   *nurse.Service
	requestService lifecycleService
	payoutService  payoutService
	billingService billingService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/nurses", s.authenticated(s.handleNurses))
	mux.HandleFunc("/api/nurses/", s.authenticated(s.handleNurse))
	mux.HandleFunc("/api/requests", s.authenticated(s.handleRequests))
	mux.HandleFunc("/api/requests/", s.authenticated(s.handleRequestDetail))
	mux.HandleFunc("/api/earnings/", s.authenticated(s.handleEarningsDetail))
	mux.HandleFunc("/api/patients/", s.authenticated(s.handlePatientBilling))
	return mux
}

// authenticated extracts the bearer token and stashes user id and role in the
// request context.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"role":     user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":       result.User.ID,
			"email":    result.User.Email,
			"fullName": result.User.FullName,
			"role":     result.User.Role,
		},
	})
}

type nurseResponse struct {
	ID          string  `json:"id"`
	FullName    string  `json:"fullName"`
	Status      string  `json:"status"`
	IsAvailable *bool   `json:"isAvailable,omitempty"`
	AgentID     *string `json:"agentId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toNurseResponse(p nurse.Profile) nurseResponse {
	return nurseResponse{
		ID:          p.ID,
		FullName:    p.FullName,
		Status:      p.Status,
		IsAvailable: p.IsAvailable,
		AgentID:     p.AgentID,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleNurses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := intQuery(r, "limit", 50)
	profiles, err := s.nurseService.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list nurses failed")
		return
	}
	items := make([]nurseResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toNurseResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleNurse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/nurses/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "nurse id required")
		return
	}
	profile, err := s.nurseService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, nurse.ErrNotFound) {
			writeError(w, http.StatusNotFound, "nurse not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load nurse failed")
		return
	}
	writeJSON(w, http.StatusOK, toNurseResponse(profile))
}

type requestResponse struct {
	ID                string  `json:"id"`
	PatientID         string  `json:"patientId"`
	AgentID           *string `json:"agentId,omitempty"`
	CareType          string  `json:"careType"`
	DurationValue     int     `json:"durationValue"`
	DurationUnit      string  `json:"durationUnit"`
	BudgetMinCents    int64   `json:"budgetMinCents"`
	BudgetMaxCents    int64   `json:"budgetMaxCents"`
	Status            string  `json:"status"`
	PaymentStatus     string  `json:"paymentStatus"`
	AssignedNurseID   *string `json:"assignedNurseId,omitempty"`
	AssignmentComment *string `json:"assignmentComment,omitempty"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

func toRequestResponse(req carerequest.CareRequest) requestResponse {
	return requestResponse{
		ID:                req.ID,
		PatientID:         req.PatientID,
		AgentID:           req.AgentID,
		CareType:          req.CareType,
		DurationValue:     req.DurationValue,
		DurationUnit:      req.DurationUnit,
		BudgetMinCents:    req.BudgetMinCents,
		BudgetMaxCents:    req.BudgetMaxCents,
		Status:            string(req.Status),
		PaymentStatus:     string(req.PaymentStatus),
		AssignedNurseID:   req.AssignedNurseID,
		AssignmentComment: req.AssignmentComment,
		CreatedAt:         req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         req.UpdatedAt.Format(time.RFC3339),
	}
}

type createRequestPayload struct {
	PatientID        string  `json:"patientId"`
	AgentID          *string `json:"agentId"`
	CareType         string  `json:"careType"`
	DurationValue    int     `json:"durationValue"`
	DurationUnit     string  `json:"durationUnit"`
	BudgetMinCents   int64   `json:"budgetMinCents"`
	BudgetMaxCents   int64   `json:"budgetMaxCents"`
	BudgetCents      int64   `json:"budgetCents"`
	MarketplaceReady bool    `json:"marketplaceReady"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filters := carerequest.Filters{
			PatientID: r.URL.Query().Get("patientId"),
			Status:    carerequest.Status(r.URL.Query().Get("status")),
			Page:      intQuery(r, "page", 1),
			PageSize:  intQuery(r, "pageSize", 20),
		}
		items, total, err := s.requestService.List(r.Context(), filters)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list requests failed")
			return
		}
		out := make([]requestResponse, 0, len(items))
		for _, req := range items {
			out = append(out, toRequestResponse(req))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})

	case http.MethodPost:
		var payload createRequestPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		patientID := payload.PatientID
		if patientID == "" {
			if id, ok := r.Context().Value(ctxKeyUserID).(string); ok {
				patientID = id
			}
		}
		created, err := s.requestService.Create(r.Context(), carerequest.CreateParams{
			PatientID:        patientID,
			AgentID:          payload.AgentID,
			CareType:         payload.CareType,
			DurationValue:    payload.DurationValue,
			DurationUnit:     payload.DurationUnit,
			BudgetMinCents:   payload.BudgetMinCents,
			BudgetMaxCents:   payload.BudgetMaxCents,
			BudgetCents:      payload.BudgetCents,
			MarketplaceReady: payload.MarketplaceReady,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(created))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRequestDetail routes /api/requests/{id}[/transition|/payment|/transfer|/history|/earnings].
func (s *Server) handleRequestDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "request id required")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		req, err := s.requestService.Get(r.Context(), id)
		if err != nil {
			s.writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req))
		return
	}

	switch parts[1] {
	case "transition":
		s.handleTransition(w, r, id)
	case "payment":
		s.handlePaymentCapture(w, r, id)
	case "transfer":
		s.handleTransfer(w, r, id)
	case "history":
		s.handleHistory(w, r, id)
	case "earnings":
		s.handleEarnings(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

type transitionPayload struct {
	Status          string  `json:"status"`
	Comment         *string `json:"comment"`
	AssignedNurseID *string `json:"assignedNurseId"`
	Commission      *struct {
		NurseAmountCents int64   `json:"nurseAmountCents"`
		Type             string  `json:"type"`
		Value            float64 `json:"value"`
	} `json:"commission"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := carerequest.TransitionParams{
		RequestID:       id,
		NextStatus:      carerequest.Status(payload.Status),
		Actor:           actorFrom(r.Context()),
		Comment:         payload.Comment,
		AssignedNurseID: payload.AssignedNurseID,
	}
	if payload.Commission != nil {
		params.Commission = &carerequest.CommissionSpec{
			NurseAmountCents: payload.Commission.NurseAmountCents,
			CommissionType:   settlement.RateType(payload.Commission.Type),
			CommissionValue:  payload.Commission.Value,
		}
	}

	updated, err := s.requestService.Transition(r.Context(), params)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(updated))
}

func (s *Server) handlePaymentCapture(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	updated, err := s.requestService.RecordPaymentCapture(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		s.writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(updated))
}

type transferPayload struct {
	NewAgentID  string  `json:"newAgentId"`
	MarginType  string  `json:"marginType"`
	MarginValue float64 `json:"marginValue"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload transferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	updated, err := s.requestService.TransferAgent(r.Context(), carerequest.TransferParams{
		RequestID:   id,
		NewAgentID:  payload.NewAgentID,
		MarginType:  settlement.RateType(payload.MarginType),
		MarginValue: payload.MarginValue,
		Actor:       actorFrom(r.Context()),
	})
	if err != nil {
		s.writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(updated))
}

type eventResponse struct {
	ID                string         `json:"id"`
	EventType         string         `json:"eventType"`
	PreviousStatus    *string        `json:"previousStatus,omitempty"`
	NextStatus        string         `json:"nextStatus"`
	NextPaymentStatus string         `json:"nextPaymentStatus"`
	AssignedNurseID   *string        `json:"assignedNurseId,omitempty"`
	Comment           *string        `json:"comment,omitempty"`
	ActorID           *string        `json:"actorId,omitempty"`
	ActorRole         string         `json:"actorRole"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         string         `json:"createdAt"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events, err := s.requestService.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse{
			ID:                strconv.FormatInt(ev.ID, 10),
			EventType:         string(ev.EventType),
			PreviousStatus:    ev.PreviousStatus,
			NextStatus:        ev.NextStatus,
			NextPaymentStatus: ev.NextPaymentStatus,
			AssignedNurseID:   ev.AssignedNurseID,
			Comment:           ev.Comment,
			ActorID:           ev.ActorID,
			ActorRole:         ev.ActorRole,
			Metadata:          ev.Metadata,
			CreatedAt:         ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type earningsResponse struct {
	ID               string  `json:"id"`
	RequestID        string  `json:"requestId"`
	NurseID          string  `json:"nurseId"`
	GrossAmountCents int64   `json:"grossAmountCents"`
	PlatformFeeCents int64   `json:"platformFeeCents"`
	ReferralFeeCents int64   `json:"referralFeeCents"`
	NetAmountCents   int64   `json:"netAmountCents"`
	Currency         string  `json:"currency"`
	PayoutStatus     string  `json:"payoutStatus"`
	PayoutReference  *string `json:"payoutReference,omitempty"`
	GeneratedAt      string  `json:"generatedAt"`
}

func toEarningsResponse(rec ledger.EarningsRecord) earningsResponse {
	return earningsResponse{
		ID:               rec.ID,
		RequestID:        rec.RequestID,
		NurseID:          rec.NurseID,
		GrossAmountCents: rec.GrossAmountCents,
		PlatformFeeCents: rec.PlatformFeeCents,
		ReferralFeeCents: rec.ReferralFeeCents,
		NetAmountCents:   rec.NetAmountCents,
		Currency:         rec.Currency,
		PayoutStatus:     string(rec.PayoutStatus),
		PayoutReference:  rec.PayoutReference,
		GeneratedAt:      rec.GeneratedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.requestService.Earnings(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no earnings for request")
			return
		}
		writeError(w, http.StatusInternalServerError, "load earnings failed")
		return
	}
	writeJSON(w, http.StatusOK, toEarningsResponse(rec))
}

type payoutPayload struct {
	Status    string  `json:"status"`
	Reference *string `json:"reference"`
	Notes     *string `json:"notes"`
}

// handleEarningsDetail routes PATCH /api/earnings/{id} for payout updates.
func (s *Server) handleEarningsDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/earnings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "earnings id required")
		return
	}
	if role, _ := r.Context().Value(ctxKeyRole).(auth.Role); role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var payload payoutPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rec, err := s.payoutService.UpdatePayout(r.Context(), ledger.UpdatePayoutParams{
		RecordID:  id,
		Next:      ledger.PayoutStatus(payload.Status),
		Reference: payload.Reference,
		Notes:     payload.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, http.StatusNotFound, "earnings record not found")
		case errors.Is(err, ledger.ErrInvalidPayoutTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "update payout failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toEarningsResponse(rec))
}

type billingPayload struct {
	NurseAmountCents int64   `json:"nurseAmountCents"`
	CommissionType   string  `json:"commissionType"`
	CommissionValue  float64 `json:"commissionValue"`
	ReferralPercent  float64 `json:"referralPercent"`
	ReferrerApproved bool    `json:"referrerApproved"`
}

type financialsResponse struct {
	NurseAmountCents      *int64  `json:"nurseAmountCents"`
	CommissionType        string  `json:"commissionType"`
	CommissionValue       float64 `json:"commissionValue"`
	CommissionAmountCents int64   `json:"commissionAmountCents"`
	NurseNetCents         int64   `json:"nurseNetCents"`
	ReferralPercent       float64 `json:"referralPercent"`
	ReferralAmountCents   int64   `json:"referralAmountCents"`
	MarginType            string  `json:"marginType"`
	MarginValue           float64 `json:"marginValue"`
	MarginAmountCents     int64   `json:"marginAmountCents"`
}

func toFinancialsResponse(f billing.Financials) financialsResponse {
	return financialsResponse{
		NurseAmountCents:      f.NurseAmountCents,
		CommissionType:        string(f.CommissionType),
		CommissionValue:       f.CommissionValue,
		CommissionAmountCents: f.CommissionAmountCents,
		NurseNetCents:         f.NurseNetCents,
		ReferralPercent:       f.ReferralPercent,
		ReferralAmountCents:   f.ReferralAmountCents,
		MarginType:            string(f.MarginType),
		MarginValue:           f.MarginValue,
		MarginAmountCents:     f.MarginAmountCents,
	}
}

// handlePatientBilling serves the commission mirror for a patient:
// GET reads it, POST records one from an agent-brokered spec, DELETE wipes
// it. The wipe is idempotent.
func (s *Server) handlePatientBilling(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	id, ok := strings.CutSuffix(rest, "/billing")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleAdmin && role != auth.RoleAgent {
		writeError(w, http.StatusForbidden, "agent or admin role required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, found, err := s.billingService.Get(r.Context(), id)
		if err != nil {
			s.writeRequestError(w, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "no billing mirror for patient")
			return
		}
		writeJSON(w, http.StatusOK, toFinancialsResponse(f))
	case http.MethodPost:
		var payload billingPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		f, err := s.billingService.RecordCommission(r.Context(), id, billing.CommissionSpec{
			NurseAmountCents: payload.NurseAmountCents,
			CommissionType:   settlement.RateType(payload.CommissionType),
			CommissionValue:  payload.CommissionValue,
			ReferralPercent:  payload.ReferralPercent,
			ReferrerApproved: payload.ReferrerApproved,
		})
		if err != nil {
			s.writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFinancialsResponse(f))
	case http.MethodDelete:
		if err := s.requestService.ClearFinancials(r.Context(), id); err != nil {
			s.writeRequestError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeRequestError maps the lifecycle error taxonomy onto HTTP statuses.
func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	var (
		invalid  *carerequest.InvalidTransitionError
		rejected *assignment.RejectionError
		input    *settlement.InvalidInputError
	)
	switch {
	case errors.Is(err, carerequest.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, carerequest.ErrImmutable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, carerequest.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, ledger.ErrDuplicate):
		writeError(w, http.StatusConflict, "earnings already recorded")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, rejected.Error())
	case errors.As(err, &input):
		writeError(w, http.StatusBadRequest, input.Error())
	case errors.Is(err, settlement.ErrCommissionExceedsAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("request handler error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func actorFrom(ctx context.Context) assignment.Actor {
	actor := assignment.Actor{}
	if id, ok := ctx.Value(ctxKeyUserID).(string); ok {
		actor.ID = id
	}
	if role, ok := ctx.Value(ctxKeyRole).(auth.Role); ok {
		actor.Role = assignment.ActorRole(role)
	}
	return actor
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
