package enums

import "fmt"

// SettlementKind labels one money-movement attempt in the settlement ledger.
type SettlementKind string

const (
	SettlementKindCapture     SettlementKind = "capture"
	SettlementKindCharge      SettlementKind = "charge"
	SettlementKindRefund      SettlementKind = "refund"
	SettlementKindRelease     SettlementKind = "release"
	SettlementKindCashCollect SettlementKind = "cash_collect"
	SettlementKindCashReturn  SettlementKind = "cash_return"
)

var validSettlementKinds = []SettlementKind{
	SettlementKindCapture,
	SettlementKindCharge,
	SettlementKindRefund,
	SettlementKindRelease,
	SettlementKindCashCollect,
	SettlementKindCashReturn,
}

// String implements fmt.Stringer.
func (s SettlementKind) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementKind.
func (s SettlementKind) IsValid() bool {
	for _, candidate := range validSettlementKinds {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementKind converts raw input into a SettlementKind.
func ParseSettlementKind(value string) (SettlementKind, error) {
	for _, candidate := range validSettlementKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement kind %q", value)
}

// SettlementOutcome records whether a money-movement attempt went through.
type SettlementOutcome string

const (
	SettlementOutcomeSuccess SettlementOutcome = "success"
	SettlementOutcomeFailed  SettlementOutcome = "failed"
)

var validSettlementOutcomes = []SettlementOutcome{
	SettlementOutcomeSuccess,
	SettlementOutcomeFailed,
}

// String implements fmt.Stringer.
func (s SettlementOutcome) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementOutcome.
func (s SettlementOutcome) IsValid() bool {
	for _, candidate := range validSettlementOutcomes {
		if candidate == s {
			return true
		}
	}
	return false
}
