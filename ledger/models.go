package ledger

import "time"

// PayoutStatus tracks the payout collaborator's progress on a settlement.
// It advances independently of the care request lifecycle; the amounts on
// the record never change once written.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutApproved  PayoutStatus = "approved"
	PayoutPaid      PayoutStatus = "paid"
	PayoutOnHold    PayoutStatus = "on_hold"
	PayoutCancelled PayoutStatus = "cancelled"
)

// EarningsRecord is the single settlement row written when a care request
// completes. One per request, enforced by a unique constraint on RequestID.
type EarningsRecord struct {
	ID                string
	RequestID         string
	NurseID           string
	PatientID         string
	GrossAmountCents  int64
	PlatformFeeCents  int64
	ReferralFeeCents  int64
	NetAmountCents    int64
	Currency          string
	PayoutStatus      PayoutStatus
	PayoutReference   *string
	Notes             *string
	GeneratedBy       string
	GeneratedAt       time.Time
	UpdatedAt         time.Time
}
