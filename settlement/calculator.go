package settlement

import (
	"errors"
	"fmt"
	"math"
)

// RateType selects how a commission or margin value is interpreted.
type RateType string

const (
	RatePercent RateType = "percent"
	RateFlat    RateType = "flat"
)

// ErrCommissionExceedsAmount signals the computed commission is larger than
// the nurse amount it is taken from. The caller must correct the inputs;
// the net is never silently floored.
var ErrCommissionExceedsAmount = errors.New("settlement: commission exceeds nurse amount")

// InvalidInputError reports a malformed commission or margin parameter along
// with the offending field so callers can render a precise message.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("settlement: invalid %s: %s", e.Field, e.Reason)
}

// CommissionResult is the outcome of splitting a nurse amount.
type CommissionResult struct {
	CommissionCents int64
	NurseNetCents   int64
}

// roundCents rounds a fractional cent amount half away from zero. All money
// in this package is int64 cents, so rounding to a cent is rounding to two
// decimals.
func roundCents(v float64) int64 {
	return int64(math.Round(v))
}

func validateRate(rateType RateType, value float64) error {
	switch rateType {
	case RatePercent, RateFlat:
	default:
		return &InvalidInputError{Field: "rateType", Reason: fmt.Sprintf("unknown type %q", rateType)}
	}
	if value < 0 {
		return &InvalidInputError{Field: "value", Reason: "must not be negative"}
	}
	if rateType == RatePercent && value > 100 {
		return &InvalidInputError{Field: "value", Reason: "percent must not exceed 100"}
	}
	return nil
}

// ComputeCommission splits nurseAmountCents into the platform/agent
// commission and the nurse's net. A commission larger than the amount fails
// with ErrCommissionExceedsAmount.
func ComputeCommission(nurseAmountCents int64, rateType RateType, value float64) (CommissionResult, error) {
	if nurseAmountCents < 0 {
		return CommissionResult{}, &InvalidInputError{Field: "nurseAmount", Reason: "must not be negative"}
	}
	if err := validateRate(rateType, value); err != nil {
		return CommissionResult{}, err
	}

	var commission int64
	switch rateType {
	case RatePercent:
		commission = roundCents(float64(nurseAmountCents) * value / 100)
	case RateFlat:
		commission = roundCents(value)
	}
	if commission < 0 {
		commission = 0
	}

	net := nurseAmountCents - commission
	if net < 0 {
		return CommissionResult{}, ErrCommissionExceedsAmount
	}

	return CommissionResult{CommissionCents: commission, NurseNetCents: net}, nil
}

// ComputeReferralCommission returns the secondary commission owed to the
// nurse's referrer. Applied by callers only when the referrer is approved.
func ComputeReferralCommission(nurseAmountCents int64, percent float64) (int64, error) {
	if nurseAmountCents < 0 {
		return 0, &InvalidInputError{Field: "nurseAmount", Reason: "must not be negative"}
	}
	if percent < 0 || percent > 100 {
		return 0, &InvalidInputError{Field: "percent", Reason: "must be within [0,100]"}
	}
	return roundCents(float64(nurseAmountCents) * percent / 100), nil
}

// ComputeTransferMargin returns the fee applied when a request moves between
// agents. With no recorded nurse amount a percent margin has no base and
// resolves to zero; a flat margin applies regardless.
func ComputeTransferMargin(nurseAmountCents *int64, rateType RateType, value float64) (int64, error) {
	if err := validateRate(rateType, value); err != nil {
		return 0, err
	}
	if nurseAmountCents == nil {
		if rateType == RateFlat {
			return roundCents(value), nil
		}
		return 0, nil
	}
	if *nurseAmountCents < 0 {
		return 0, &InvalidInputError{Field: "nurseAmount", Reason: "must not be negative"}
	}

	switch rateType {
	case RatePercent:
		return roundCents(float64(*nurseAmountCents) * value / 100), nil
	default:
		return roundCents(value), nil
	}
}

// NetAmount applies the ledger net invariant: gross minus fees, floored at
// zero.
func NetAmount(grossCents, platformFeeCents, referralFeeCents int64) int64 {
	net := grossCents - platformFeeCents - referralFeeCents
	if net < 0 {
		return 0
	}
	return net
}
