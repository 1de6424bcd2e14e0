package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder            OutboxAggregateType = "order"
	AggregateWeightAdjustment OutboxAggregateType = "weight_adjustment"
	AggregatePreAuthorization OutboxAggregateType = "pre_authorization"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateWeightAdjustment,
	AggregatePreAuthorization,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderReadyToSettle        OutboxEventType = "order_ready_to_settle"
	EventAdjustmentWeighed         OutboxEventType = "adjustment_weighed"
	EventAdjustmentReviewRequested OutboxEventType = "adjustment_review_requested"
	EventAdjustmentResolved        OutboxEventType = "adjustment_resolved"
	EventAdjustmentSettled         OutboxEventType = "adjustment_settled"
	EventSettlementFailed          OutboxEventType = "settlement_failed"
	EventPreAuthExpired            OutboxEventType = "preauth_expired"
	EventOrderSettled              OutboxEventType = "order_settled"
)

var validEventTypes = []OutboxEventType{
	EventOrderReadyToSettle,
	EventAdjustmentWeighed,
	EventAdjustmentReviewRequested,
	EventAdjustmentResolved,
	EventAdjustmentSettled,
	EventSettlementFailed,
	EventPreAuthExpired,
	EventOrderSettled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// OutboxDLQErrorReason classifies why an outbox row was sent to the DLQ.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
