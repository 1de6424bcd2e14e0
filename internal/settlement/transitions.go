package settlement

import "github.com/haldirect/settlement-backend/pkg/enums"

// allowedTransitions is the full adjustment lifecycle. Anything not listed is
// rejected with a state conflict; terminal states have no outgoing edges.
var allowedTransitions = map[enums.AdjustmentStatus][]enums.AdjustmentStatus{
	enums.AdjustmentStatusPendingWeighing: {
		enums.AdjustmentStatusWeighed,
		enums.AdjustmentStatusAutoApproved,
		enums.AdjustmentStatusPendingAdminApproval,
	},
	enums.AdjustmentStatusWeighed: {
		enums.AdjustmentStatusAutoApproved,
		enums.AdjustmentStatusPendingAdminApproval,
	},
	enums.AdjustmentStatusAutoApproved: {
		enums.AdjustmentStatusSettlementPending,
	},
	enums.AdjustmentStatusPendingAdminApproval: {
		enums.AdjustmentStatusAutoApproved,
		enums.AdjustmentStatusRejectedByAdmin,
	},
	enums.AdjustmentStatusSettlementPending: {
		enums.AdjustmentStatusSettled,
		enums.AdjustmentStatusSettlementFailed,
	},
	enums.AdjustmentStatusSettlementFailed: {
		enums.AdjustmentStatusSettlementPending,
		enums.AdjustmentStatusPendingAdminApproval,
	},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another.
func CanTransition(from, to enums.AdjustmentStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
