package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// OrderReadyToSettleEvent signals that every line of an order carries a
// confirmed weight and settlement can begin.
type OrderReadyToSettleEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	LineCount     int                 `json:"line_count"`
}

// AdjustmentWeighedEvent is emitted when an actual weight is recorded for a
// line.
type AdjustmentWeighedEvent struct {
	AdjustmentID          uuid.UUID `json:"adjustment_id"`
	OrderID               uuid.UUID `json:"order_id"`
	OrderLineID           uuid.UUID `json:"order_line_id"`
	EstimatedWeightGrams  int64     `json:"estimated_weight_grams"`
	ActualWeightGrams     int64     `json:"actual_weight_grams"`
	DifferencePercent     string    `json:"difference_percent"`
	RequiresAdminApproval bool      `json:"requires_admin_approval"`
}

// AdjustmentReviewRequestedEvent tells the back office a deviation needs a
// human decision.
type AdjustmentReviewRequestedEvent struct {
	AdjustmentID      uuid.UUID `json:"adjustment_id"`
	OrderID           uuid.UUID `json:"order_id"`
	DifferencePercent string    `json:"difference_percent"`
	Reason            string    `json:"reason"`
}

// AdjustmentResolvedEvent is emitted when an admin decides an adjustment.
type AdjustmentResolvedEvent struct {
	AdjustmentID    uuid.UUID               `json:"adjustment_id"`
	OrderID         uuid.UUID               `json:"order_id"`
	ReviewerID      uuid.UUID               `json:"reviewer_id"`
	Action          enums.ArbitrationAction `json:"action"`
	FinalPriceCents int64                   `json:"final_price_cents"`
}

// AdjustmentSettledEvent reports a single adjustment reaching its terminal
// settled state.
type AdjustmentSettledEvent struct {
	AdjustmentID uuid.UUID `json:"adjustment_id"`
	OrderID      uuid.UUID `json:"order_id"`
	AmountCents  int64     `json:"amount_cents"`
}

// SettlementFailedEvent surfaces a failed money movement attempt.
type SettlementFailedEvent struct {
	OrderID      uuid.UUID  `json:"order_id"`
	AdjustmentID *uuid.UUID `json:"adjustment_id,omitempty"`
	Reason       string     `json:"reason"`
	FailureCount int        `json:"failure_count"`
}

// PreAuthExpiredEvent is emitted when the reaper releases a stale hold.
type PreAuthExpiredEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	PreAuthID        uuid.UUID `json:"pre_auth_id"`
	GatewayReference string    `json:"gateway_reference"`
	ExpiredAt        time.Time `json:"expired_at"`
}

// OrderSettledEvent aggregates the money moved once an order fully settles.
type OrderSettledEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	CapturedCents int64               `json:"captured_cents"`
	RefundedCents int64               `json:"refunded_cents"`
	ChargedCents  int64               `json:"charged_cents"`
	SettledAt     time.Time           `json:"settled_at"`
}
