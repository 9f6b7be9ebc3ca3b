package assignment

import (
	"errors"
	"testing"
)

func approvedNurse() NurseSnapshot {
	agent := "agent-1"
	return NurseSnapshot{ID: "nurse-1", Status: NurseApproved, AgentID: &agent}
}

func rejectionRule(t *testing.T, err error) Rule {
	t.Helper()
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	return rej.Rule
}

func TestValidate_RulesInOrder(t *testing.T) {
	agent := Actor{ID: "agent-1", Role: RoleAgent}

	t.Run("unapproved nurse fails first", func(t *testing.T) {
		nurse := approvedNurse()
		nurse.Status = NursePending
		unavailable := false
		nurse.IsAvailable = &unavailable

		err := Validate(agent, nurse, RequestSnapshot{}, nil)
		if got := rejectionRule(t, err); got != RuleNurseApproved {
			t.Fatalf("expected %s, got %s", RuleNurseApproved, got)
		}
	})

	t.Run("unavailable nurse", func(t *testing.T) {
		nurse := approvedNurse()
		unavailable := false
		nurse.IsAvailable = &unavailable

		err := Validate(agent, nurse, RequestSnapshot{}, nil)
		if got := rejectionRule(t, err); got != RuleNurseAvailable {
			t.Fatalf("expected %s, got %s", RuleNurseAvailable, got)
		}
	})

	t.Run("nil availability counts as available", func(t *testing.T) {
		nurse := approvedNurse()
		nurse.IsAvailable = nil

		if err := Validate(agent, nurse, RequestSnapshot{}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidate_AgentOwnership(t *testing.T) {
	nurse := approvedNurse()

	err := Validate(Actor{ID: "agent-2", Role: RoleAgent}, nurse, RequestSnapshot{}, nil)
	if got := rejectionRule(t, err); got != RuleAgentOwnership {
		t.Fatalf("expected %s, got %s", RuleAgentOwnership, got)
	}

	// Admin actors bypass the ownership rule.
	if err := Validate(Actor{ID: "admin-1", Role: RoleAdmin}, nurse, RequestSnapshot{}, nil); err != nil {
		t.Fatalf("expected admin bypass, got %v", err)
	}

	// Nurse with no agent at all.
	orphan := approvedNurse()
	orphan.AgentID = nil
	err = Validate(Actor{ID: "agent-1", Role: RoleAgent}, orphan, RequestSnapshot{}, nil)
	if got := rejectionRule(t, err); got != RuleAgentOwnership {
		t.Fatalf("expected %s, got %s", RuleAgentOwnership, got)
	}
}

func TestValidate_CommissionBounds(t *testing.T) {
	agent := Actor{ID: "agent-1", Role: RoleAgent}
	nurse := approvedNurse()
	req := RequestSnapshot{ID: "req-1", BudgetMaxCents: 2000000}

	if err := Validate(agent, nurse, req, &CommissionParams{NurseAmountCents: 1800000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := Validate(agent, nurse, req, &CommissionParams{NurseAmountCents: 2000001})
	if got := rejectionRule(t, err); got != RuleCommissionBound {
		t.Fatalf("expected %s, got %s", RuleCommissionBound, got)
	}

	err = Validate(agent, nurse, req, &CommissionParams{NurseAmountCents: -1})
	if got := rejectionRule(t, err); got != RuleCommissionBound {
		t.Fatalf("expected %s, got %s", RuleCommissionBound, got)
	}

	// A request without a declared budget max accepts any non-negative amount.
	open := RequestSnapshot{ID: "req-2"}
	if err := Validate(agent, nurse, open, &CommissionParams{NurseAmountCents: 99999999}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTransfer(t *testing.T) {
	nurse := approvedNurse()

	if err := ValidateTransfer(Actor{ID: "agent-1", Role: RoleAgent}, nurse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ValidateTransfer(Actor{ID: "agent-9", Role: RoleAgent}, nurse)
	if got := rejectionRule(t, err); got != RuleAgentOwnership {
		t.Fatalf("expected %s, got %s", RuleAgentOwnership, got)
	}
}
