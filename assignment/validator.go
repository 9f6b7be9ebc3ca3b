package assignment

import "fmt"

// Rule identifies which eligibility rule rejected an assignment.
type Rule string

const (
	RuleNurseApproved   Rule = "nurse_approved"
	RuleNurseAvailable  Rule = "nurse_available"
	RuleAgentOwnership  Rule = "agent_ownership"
	RuleCommissionBound Rule = "commission_bound"
)

// RejectionError carries the first rule that failed plus the offending field
// so the caller can render a precise message. Rejections are recoverable;
// nothing is mutated when one is returned.
type RejectionError struct {
	Rule   Rule
	Field  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("assignment: rejected by %s: %s", e.Rule, e.Reason)
}

// ActorRole is the role of the caller attempting the assignment.
type ActorRole string

const (
	RolePatient ActorRole = "patient"
	RoleNurse   ActorRole = "nurse"
	RoleAgent   ActorRole = "agent"
	RoleAdmin   ActorRole = "admin"
)

// Actor identifies who is attempting the assignment. Used for the agent
// ownership rule and recorded as audit metadata downstream; authorization
// itself happens outside this package.
type Actor struct {
	ID   string
	Role ActorRole
}

// NurseStatus mirrors the nurse approval pipeline.
type NurseStatus string

const (
	NursePending  NurseStatus = "pending"
	NurseApproved NurseStatus = "approved"
	NurseRejected NurseStatus = "rejected"
)

// NurseSnapshot is the nurse state at validation time.
type NurseSnapshot struct {
	ID          string
	Status      NurseStatus
	IsAvailable *bool
	AgentID     *string
}

// RequestSnapshot is the subset of the care request the validator needs.
type RequestSnapshot struct {
	ID             string
	BudgetMaxCents int64
}

// CommissionParams is present when the assignment also records a commission.
type CommissionParams struct {
	NurseAmountCents int64
}

// Validate runs the eligibility rules in order and reports the first
// failure. nurseAmount bounds are a hard rejection, never auto-adjusted.
func Validate(actor Actor, nurse NurseSnapshot, req RequestSnapshot, commission *CommissionParams) error {
	if nurse.Status != NurseApproved {
		return &RejectionError{
			Rule:   RuleNurseApproved,
			Field:  "nurse.status",
			Reason: fmt.Sprintf("nurse %s is %s, not approved", nurse.ID, nurse.Status),
		}
	}

	// nil availability counts as available.
	if nurse.IsAvailable != nil && !*nurse.IsAvailable {
		return &RejectionError{
			Rule:   RuleNurseAvailable,
			Field:  "nurse.isAvailable",
			Reason: fmt.Sprintf("nurse %s is unavailable", nurse.ID),
		}
	}

	if err := validateOwnership(actor, nurse); err != nil {
		return err
	}

	if commission != nil {
		if commission.NurseAmountCents < 0 {
			return &RejectionError{
				Rule:   RuleCommissionBound,
				Field:  "nurseAmount",
				Reason: "nurse amount must not be negative",
			}
		}
		if req.BudgetMaxCents > 0 && commission.NurseAmountCents > req.BudgetMaxCents {
			return &RejectionError{
				Rule:   RuleCommissionBound,
				Field:  "nurseAmount",
				Reason: fmt.Sprintf("nurse amount %d exceeds budget max %d", commission.NurseAmountCents, req.BudgetMaxCents),
			}
		}
	}

	return nil
}

// ValidateTransfer re-runs the agent ownership rule against the receiving
// agent. The controller clears the request's financial mirror when this
// fails rather than leaving stale figures behind.
func ValidateTransfer(newAgent Actor, nurse NurseSnapshot) error {
	return validateOwnership(newAgent, nurse)
}

func validateOwnership(actor Actor, nurse NurseSnapshot) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.Role != RoleAgent {
		return nil
	}
	if nurse.AgentID == nil || *nurse.AgentID != actor.ID {
		return &RejectionError{
			Rule:   RuleAgentOwnership,
			Field:  "nurse.agentId",
			Reason: fmt.Sprintf("nurse %s does not belong to agent %s", nurse.ID, actor.ID),
		}
	}
	return nil
}
