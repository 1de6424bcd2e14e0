package enums

import "fmt"

// ArbitrationAction is an admin decision applied to a weight adjustment.
type ArbitrationAction string

const (
	ArbitrationActionApprove  ArbitrationAction = "approve"
	ArbitrationActionReject   ArbitrationAction = "reject"
	ArbitrationActionOverride ArbitrationAction = "override"
	ArbitrationActionWaive    ArbitrationAction = "waive"
)

var validArbitrationActions = []ArbitrationAction{
	ArbitrationActionApprove,
	ArbitrationActionReject,
	ArbitrationActionOverride,
	ArbitrationActionWaive,
}

// String implements fmt.Stringer.
func (a ArbitrationAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ArbitrationAction.
func (a ArbitrationAction) IsValid() bool {
	for _, candidate := range validArbitrationActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseArbitrationAction converts raw input into an ArbitrationAction.
func ParseArbitrationAction(value string) (ArbitrationAction, error) {
	for _, candidate := range validArbitrationActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid arbitration action %q", value)
}
