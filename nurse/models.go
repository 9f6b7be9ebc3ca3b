package nurse

import "time"

// Profile captures the nurse snapshot consumed by the assignment validator
// and the settlement path.
type Profile struct {
	ID          string
	UserID      *string
	FullName    string
	Status      string
	IsAvailable *bool
	AgentID     *string
	// ReferrerID / ReferrerApproved drive the referral commission: the fee
	// applies only when the referrer exists and has been approved.
	ReferrerID       *string
	ReferrerApproved bool
	ReferralPercent  float64
	CreatedAt        time.Time
}
