package settlement

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/outbox/payloads"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Machine applies adjustment lifecycle transitions and failure bookkeeping.
// All methods expect to run inside the caller's transaction with the
// adjustment row already locked.
type Machine struct {
	adjustments weighing.Repository
	outbox      outboxPublisher
	maxFailures int
	logg        *logger.Logger
}

// NewMachine builds the settlement state machine. maxFailures is the number
// of gateway failures after which an adjustment escalates to admin review.
func NewMachine(adjustments weighing.Repository, outboxSvc outboxPublisher, maxFailures int, logg *logger.Logger) (*Machine, error) {
	if adjustments == nil {
		return nil, fmt.Errorf("adjustment repository required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if maxFailures <= 0 {
		return nil, fmt.Errorf("max failures must be positive, got %d", maxFailures)
	}
	return &Machine{
		adjustments: adjustments,
		outbox:      outboxSvc,
		maxFailures: maxFailures,
		logg:        logg,
	}, nil
}

// Transition moves the adjustment to the target status, merging any extra
// column updates into the same write.
func (m *Machine) Transition(ctx context.Context, tx *gorm.DB, adjustment *models.WeightAdjustment, to enums.AdjustmentStatus, extra map[string]any) error {
	if adjustment == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "adjustment required")
	}
	if !CanTransition(adjustment.Status, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move adjustment from %s to %s", adjustment.Status, to))
	}

	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if err := m.adjustments.WithTx(tx).Update(ctx, adjustment.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update adjustment status")
	}

	if m.logg != nil {
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"adjustment_id": adjustment.ID.String(),
			"from":          adjustment.Status,
			"to":            to,
		})
		m.logg.Info(logCtx, "adjustment transitioned")
	}
	adjustment.Status = to
	return nil
}

// RecordFailure marks a failed settlement attempt. After maxFailures the
// adjustment escalates to admin review instead of staying retryable.
func (m *Machine) RecordFailure(ctx context.Context, tx *gorm.DB, adjustment *models.WeightAdjustment, reason string) error {
	if adjustment == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "adjustment required")
	}

	failureCount := adjustment.FailureCount + 1
	target := enums.AdjustmentStatusSettlementFailed
	escalated := failureCount >= m.maxFailures
	if escalated {
		target = enums.AdjustmentStatusPendingAdminApproval
		reason = fmt.Sprintf("%s (escalated after %d failed attempts)", reason, failureCount)
	}

	// settlement_pending -> settlement_failed, or settlement_failed ->
	// pending_admin_approval on escalation. Both edges are in the table.
	if adjustment.Status == enums.AdjustmentStatusSettlementPending && escalated {
		if err := m.Transition(ctx, tx, adjustment, enums.AdjustmentStatusSettlementFailed, nil); err != nil {
			return err
		}
	}
	if err := m.Transition(ctx, tx, adjustment, target, map[string]any{
		"failure_count":  failureCount,
		"failure_reason": reason,
	}); err != nil {
		return err
	}
	adjustment.FailureCount = failureCount
	adjustment.FailureReason = &reason

	adjID := adjustment.ID
	event := outbox.DomainEvent{
		EventType:     enums.EventSettlementFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   adjustment.OrderID,
		Version:       1,
		Data: payloads.SettlementFailedEvent{
			OrderID:      adjustment.OrderID,
			AdjustmentID: &adjID,
			Reason:       reason,
			FailureCount: failureCount,
		},
	}
	if err := m.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement failed event")
	}

	if escalated {
		review := outbox.DomainEvent{
			EventType:     enums.EventAdjustmentReviewRequested,
			AggregateType: enums.AggregateWeightAdjustment,
			AggregateID:   adjustment.ID,
			Version:       1,
			Data: payloads.AdjustmentReviewRequestedEvent{
				AdjustmentID:      adjustment.ID,
				OrderID:           adjustment.OrderID,
				DifferencePercent: adjustment.DifferencePercent.StringFixed(3),
				Reason:            reason,
			},
		}
		if err := m.outbox.Emit(ctx, tx, review); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit review event")
		}
	}
	return nil
}

// MarkSettled flips the adjustment to its terminal settled state exactly
// once. A second call with the adjustment already settled is a no-op so
// replayed settlements cannot double-emit.
func (m *Machine) MarkSettled(ctx context.Context, tx *gorm.DB, adjustment *models.WeightAdjustment, paymentReference *string, settledAt time.Time) error {
	if adjustment == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "adjustment required")
	}
	if adjustment.IsSettled {
		return nil
	}

	extra := map[string]any{
		"is_settled": true,
		"settled_at": settledAt,
	}
	if paymentReference != nil {
		extra["payment_reference"] = *paymentReference
	}
	if err := m.Transition(ctx, tx, adjustment, enums.AdjustmentStatusSettled, extra); err != nil {
		return err
	}
	adjustment.IsSettled = true
	adjustment.SettledAt = &settledAt
	adjustment.PaymentReference = paymentReference

	event := outbox.DomainEvent{
		EventType:     enums.EventAdjustmentSettled,
		AggregateType: enums.AggregateWeightAdjustment,
		AggregateID:   adjustment.ID,
		Version:       1,
		Data: payloads.AdjustmentSettledEvent{
			AdjustmentID: adjustment.ID,
			OrderID:      adjustment.OrderID,
			AmountCents:  adjustment.PriceDiffCents,
		},
	}
	if err := m.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settled event")
	}
	return nil
}
