package carerequest

import (
	"time"

	"careflow/settlement"
)

// Status is the lifecycle stage of a care request.
type Status string

const (
	StatusOpen           Status = "open"
	StatusAssigned       Status = "assigned"
	StatusPaymentPending Status = "payment_pending"
	StatusActive         Status = "active"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// PaymentStatus reflects whether payment capture has been reported by the
// external payment collaborator.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// permitted enumerates the legal lifecycle edges. completed and cancelled
// are terminal.
var permitted = map[Status][]Status{
	StatusOpen:           {StatusAssigned, StatusCancelled},
	StatusAssigned:       {StatusOpen, StatusPaymentPending, StatusActive, StatusCancelled},
	StatusPaymentPending: {StatusAssigned, StatusActive, StatusCancelled},
	StatusActive:         {StatusOpen, StatusCompleted, StatusCancelled},
}

// TransitionAllowed reports whether from -> to is a legal edge.
func TransitionAllowed(from, to Status) bool {
	for _, s := range permitted[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func validStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusPaymentPending, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CareRequest mirrors the care_requests table. Money columns are int64
// cents.
type CareRequest struct {
	ID                string
	PatientID         string
	AgentID           *string
	CareType          string
	DurationValue     int
	DurationUnit      string
	BudgetMinCents    int64
	BudgetMaxCents    int64
	BudgetCents       int64
	MarketplaceReady  bool
	AssignedNurseID   *string
	Status            Status
	PaymentStatus     PaymentStatus
	AssignmentComment *string
	NurseNotified     bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CommissionSpec is supplied when an assignment also records the agent's
// commission on the nurse amount.
type CommissionSpec struct {
	NurseAmountCents int64
	CommissionType   settlement.RateType
	CommissionValue  float64
}

// Filters narrows List queries.
type Filters struct {
	PatientID        string
	Status           Status
	MarketplaceReady *bool
	Page             int
	PageSize         int
}
