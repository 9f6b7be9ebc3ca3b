package billing

import (
	"time"

	"careflow/settlement"
)

// Financials is the per-patient financial mirror kept for agent-brokered
// flows. It shares the settlement package's arithmetic with the earnings
// ledger; the two must never disagree on a split.
type Financials struct {
	NurseAmountCents      *int64
	CommissionType        settlement.RateType
	CommissionValue       float64
	CommissionAmountCents int64
	NurseNetCents         int64
	ReferralPercent       float64
	ReferralAmountCents   int64
	MarginType            settlement.RateType
	MarginValue           float64
	MarginAmountCents     int64
	UpdatedAt             time.Time
}
