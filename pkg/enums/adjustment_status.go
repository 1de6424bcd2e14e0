package enums

import "fmt"

// AdjustmentStatus tracks the settlement lifecycle of a weight adjustment.
type AdjustmentStatus string

const (
	AdjustmentStatusPendingWeighing      AdjustmentStatus = "pending_weighing"
	AdjustmentStatusWeighed              AdjustmentStatus = "weighed"
	AdjustmentStatusAutoApproved         AdjustmentStatus = "auto_approved"
	AdjustmentStatusPendingAdminApproval AdjustmentStatus = "pending_admin_approval"
	AdjustmentStatusSettlementPending    AdjustmentStatus = "settlement_pending"
	AdjustmentStatusSettled              AdjustmentStatus = "settled"
	AdjustmentStatusSettlementFailed     AdjustmentStatus = "settlement_failed"
	AdjustmentStatusRejectedByAdmin      AdjustmentStatus = "rejected_by_admin"
)

var validAdjustmentStatuses = []AdjustmentStatus{
	AdjustmentStatusPendingWeighing,
	AdjustmentStatusWeighed,
	AdjustmentStatusAutoApproved,
	AdjustmentStatusPendingAdminApproval,
	AdjustmentStatusSettlementPending,
	AdjustmentStatusSettled,
	AdjustmentStatusSettlementFailed,
	AdjustmentStatusRejectedByAdmin,
}

// String implements fmt.Stringer.
func (a AdjustmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AdjustmentStatus.
func (a AdjustmentStatus) IsValid() bool {
	for _, candidate := range validAdjustmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further settlement work applies.
func (a AdjustmentStatus) IsTerminal() bool {
	return a == AdjustmentStatusSettled || a == AdjustmentStatusRejectedByAdmin
}

// ParseAdjustmentStatus converts raw input into an AdjustmentStatus.
func ParseAdjustmentStatus(value string) (AdjustmentStatus, error) {
	for _, candidate := range validAdjustmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment status %q", value)
}
