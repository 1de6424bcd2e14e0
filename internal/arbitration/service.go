package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/settlement"
	"github.com/haldirect/settlement-backend/internal/weighing"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/metrics"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/outbox/payloads"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// settlementTrigger kicks the money movement for an order once arbitration
// clears it. Failures here are not fatal; the retry sweep picks the order up.
type settlementTrigger interface {
	FinalizeOrder(ctx context.Context, orderID uuid.UUID) error
}

// DecideInput is one admin verdict on a disputed adjustment.
type DecideInput struct {
	AdjustmentID       uuid.UUID
	ReviewerID         uuid.UUID
	Action             enums.ArbitrationAction
	AdjustedPriceCents *int64
	Note               *string
}

// Service arbitrates weight adjustments that exceeded the automatic approval
// threshold or exhausted their settlement retries.
type Service interface {
	Decide(ctx context.Context, input DecideInput) (*models.WeightAdjustment, error)
	ListPending(ctx context.Context, params pagination.Params, filters weighing.PendingReviewFilters) (*weighing.PendingReviewList, error)
}

type service struct {
	adjustments weighing.Repository
	decisions   DecisionRepository
	machine     *settlement.Machine
	tx          txRunner
	outbox      outboxPublisher
	finalizer   settlementTrigger
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
}

// NewService builds the arbitration service. The finalizer is optional; when
// nil, cleared orders wait for the periodic settlement sweep.
func NewService(
	adjustments weighing.Repository,
	decisions DecisionRepository,
	machine *settlement.Machine,
	tx txRunner,
	publisher outboxPublisher,
	finalizer settlementTrigger,
	settlementMetrics *metrics.SettlementMetrics,
	logg *logger.Logger,
) (Service, error) {
	if adjustments == nil {
		return nil, fmt.Errorf("adjustment repository required")
	}
	if decisions == nil {
		return nil, fmt.Errorf("decision repository required")
	}
	if machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		adjustments: adjustments,
		decisions:   decisions,
		machine:     machine,
		tx:          tx,
		outbox:      publisher,
		finalizer:   finalizer,
		metrics:     settlementMetrics,
		logg:        logg,
	}, nil
}

// Decide records the verdict, moves the adjustment accordingly and, when the
// whole order is cleared, hands it to settlement.
func (s *service) Decide(ctx context.Context, input DecideInput) (*models.WeightAdjustment, error) {
	if input.AdjustmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment id required")
	}
	if input.ReviewerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer id required")
	}
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action %q", input.Action))
	}
	if input.Action == enums.ArbitrationActionOverride {
		if input.AdjustedPriceCents == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "override requires an adjusted price")
		}
		if *input.AdjustedPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjusted price must not be negative")
		}
	}

	var (
		adjustment   *models.WeightAdjustment
		orderCleared bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		adjRepo := s.adjustments.WithTx(tx)

		var err error
		adjustment, err = adjRepo.FindByIDForUpdate(ctx, input.AdjustmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "adjustment not found")
			}
			return err
		}
		if adjustment.Status != enums.AdjustmentStatusPendingAdminApproval &&
			adjustment.Status != enums.AdjustmentStatusSettlementFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("adjustment in status %s is not open for arbitration", adjustment.Status))
		}

		decision := &models.AdminDecision{
			AdjustmentID:       adjustment.ID,
			ReviewerID:         input.ReviewerID,
			Action:             input.Action,
			AdjustedPriceCents: input.AdjustedPriceCents,
			Note:               input.Note,
		}
		if _, err := s.decisions.WithTx(tx).Create(ctx, decision); err != nil {
			return err
		}

		if err := s.applyDecision(ctx, tx, adjustment, input); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventAdjustmentResolved,
			AggregateType: enums.AggregateWeightAdjustment,
			AggregateID:   adjustment.ID,
			Actor:         &outbox.ActorRef{ActorID: input.ReviewerID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.AdjustmentResolvedEvent{
				AdjustmentID:    adjustment.ID,
				OrderID:         adjustment.OrderID,
				ReviewerID:      input.ReviewerID,
				Action:          input.Action,
				FinalPriceCents: adjustment.ActualPriceCents,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		orderCleared, err = s.orderCleared(ctx, adjRepo, adjustment.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithAdjustmentID(ctx, adjustment.ID.String())
		logCtx = s.logg.WithOrderID(logCtx, adjustment.OrderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"action":      input.Action,
			"reviewer_id": input.ReviewerID,
		})
		s.logg.Info(logCtx, "arbitration decision recorded")
	}

	s.refreshQueueDepth(ctx)

	if orderCleared && s.finalizer != nil {
		if err := s.finalizer.FinalizeOrder(ctx, adjustment.OrderID); err != nil && s.logg != nil {
			s.logg.Warn(logCtx, fmt.Sprintf("settlement deferred to retry sweep: %v", err))
		}
	}
	return adjustment, nil
}

func (s *service) applyDecision(ctx context.Context, tx *gorm.DB, adjustment *models.WeightAdjustment, input DecideInput) error {
	// Escalated adjustments fail into pending_admin_approval first so the
	// decision always applies from there.
	if adjustment.Status == enums.AdjustmentStatusSettlementFailed {
		if err := s.machine.Transition(ctx, tx, adjustment, enums.AdjustmentStatusPendingAdminApproval, nil); err != nil {
			return err
		}
	}

	switch input.Action {
	case enums.ArbitrationActionApprove:
		return s.machine.Transition(ctx, tx, adjustment, enums.AdjustmentStatusAutoApproved, nil)

	case enums.ArbitrationActionReject:
		// The weighed price is discarded; the line settles at the estimate.
		extra := map[string]any{
			"actual_price_cents": adjustment.EstimatedPriceCents,
			"price_diff_cents":   int64(0),
		}
		if err := s.machine.Transition(ctx, tx, adjustment, enums.AdjustmentStatusRejectedByAdmin, extra); err != nil {
			return err
		}
		adjustment.ActualPriceCents = adjustment.EstimatedPriceCents
		adjustment.PriceDiffCents = 0
		return nil

	case enums.ArbitrationActionOverride:
		newPrice := *input.AdjustedPriceCents
		extra := map[string]any{
			"actual_price_cents": newPrice,
			"price_diff_cents":   newPrice - adjustment.EstimatedPriceCents,
		}
		if err := s.machine.Transition(ctx, tx, adjustment, enums.AdjustmentStatusAutoApproved, extra); err != nil {
			return err
		}
		adjustment.ActualPriceCents = newPrice
		adjustment.PriceDiffCents = newPrice - adjustment.EstimatedPriceCents
		return nil

	case enums.ArbitrationActionWaive:
		// The difference is forgiven. The line still flows through settlement
		// so the estimate is actually collected.
		extra := map[string]any{
			"actual_price_cents": adjustment.EstimatedPriceCents,
			"price_diff_cents":   int64(0),
		}
		if err := s.machine.Transition(ctx, tx, adjustment, enums.AdjustmentStatusAutoApproved, extra); err != nil {
			return err
		}
		adjustment.ActualPriceCents = adjustment.EstimatedPriceCents
		adjustment.PriceDiffCents = 0
		return nil

	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action %q", input.Action))
	}
}

// orderCleared reports whether no line on the order still blocks settlement.
func (s *service) orderCleared(ctx context.Context, adjRepo weighing.Repository, orderID uuid.UUID) (bool, error) {
	all, err := adjRepo.FindByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	for i := range all {
		status := all[i].Status
		if status == enums.AdjustmentStatusPendingAdminApproval ||
			status == enums.AdjustmentStatusSettlementFailed ||
			status == enums.AdjustmentStatusPendingWeighing ||
			status == enums.AdjustmentStatusWeighed {
			return false, nil
		}
	}
	return len(all) > 0, nil
}

// ListPending pages through adjustments waiting on an admin.
func (s *service) ListPending(ctx context.Context, params pagination.Params, filters weighing.PendingReviewFilters) (*weighing.PendingReviewList, error) {
	list, err := s.adjustments.ListPendingReview(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending adjustments")
	}
	return list, nil
}

func (s *service) refreshQueueDepth(ctx context.Context) {
	depth, err := s.adjustments.CountByStatus(ctx, enums.AdjustmentStatusPendingAdminApproval)
	if err != nil {
		return
	}
	s.metrics.SetAdminQueueDepth(int(depth))
}
