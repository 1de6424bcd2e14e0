package weighing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/internal/orders"
	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
	"github.com/haldirect/settlement-backend/pkg/logger"
	"github.com/haldirect/settlement-backend/pkg/outbox"
	"github.com/haldirect/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// settlementTrigger starts card settlement as soon as the last line of an
// order is weighed. Failures are logged; the retry sweep covers them.
type settlementTrigger interface {
	FinalizeOrder(ctx context.Context, orderID uuid.UUID) error
}

// RecordWeightInput is one confirmed weight for one line.
type RecordWeightInput struct {
	OrderLineID       uuid.UUID
	ActualWeightGrams int64
	Source            enums.WeightReportSource
	ReportedBy        *uuid.UUID
	ReportedAt        time.Time
}

// RecordWeightsInput applies several weights from a single report in one
// transaction: all lines land or none do.
type RecordWeightsInput struct {
	Source     enums.WeightReportSource
	ReportedBy *uuid.UUID
	ReportedAt time.Time
	Lines      []RecordWeightInput
}

// Service turns reported weights into priced adjustments and routes them.
type Service interface {
	RecordWeight(ctx context.Context, input RecordWeightInput) (*models.WeightAdjustment, error)
	RecordWeights(ctx context.Context, input RecordWeightsInput) ([]models.WeightAdjustment, error)
	Preview(ctx context.Context, orderLineID uuid.UUID, actualWeightGrams int64) (*Calculation, error)
}

type service struct {
	repo       Repository
	orders     orders.Repository
	tx         txRunner
	outbox     outboxPublisher
	calculator *Calculator
	finalizer  settlementTrigger
	logg       *logger.Logger
}

// NewService builds the weighing service. The finalizer is optional; when
// nil, card orders that become fully weighed wait for the periodic
// settlement sweep.
func NewService(repo Repository, ordersRepo orders.Repository, tx txRunner, outboxSvc outboxPublisher, calculator *Calculator, finalizer settlementTrigger, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("weighing repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if calculator == nil {
		return nil, fmt.Errorf("calculator required")
	}
	return &service{
		repo:       repo,
		orders:     ordersRepo,
		tx:         tx,
		outbox:     outboxSvc,
		calculator: calculator,
		finalizer:  finalizer,
		logg:       logg,
	}, nil
}

func (s *service) RecordWeight(ctx context.Context, input RecordWeightInput) (*models.WeightAdjustment, error) {
	var (
		result    *models.WeightAdjustment
		readyCard bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		adjustment, ready, err := s.recordWeightTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = adjustment
		readyCard = ready
		return nil
	})
	if err != nil {
		return nil, err
	}
	if readyCard {
		s.triggerSettlement(ctx, result.OrderID)
	}
	return result, nil
}

func (s *service) RecordWeights(ctx context.Context, input RecordWeightsInput) ([]models.WeightAdjustment, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	results := make([]models.WeightAdjustment, 0, len(input.Lines))
	readyCardOrders := make(map[uuid.UUID]struct{})
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		results = results[:0]
		clear(readyCardOrders)
		for _, line := range input.Lines {
			line.Source = input.Source
			if line.ReportedBy == nil {
				line.ReportedBy = input.ReportedBy
			}
			if line.ReportedAt.IsZero() {
				line.ReportedAt = input.ReportedAt
			}
			adjustment, ready, err := s.recordWeightTx(ctx, tx, line)
			if err != nil {
				return err
			}
			if ready {
				readyCardOrders[adjustment.OrderID] = struct{}{}
			}
			results = append(results, *adjustment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for orderID := range readyCardOrders {
		s.triggerSettlement(ctx, orderID)
	}
	return results, nil
}

// triggerSettlement kicks the card finalizer after the weight transaction
// committed. Errors only defer the order to the retry sweep.
func (s *service) triggerSettlement(ctx context.Context, orderID uuid.UUID) {
	if s.finalizer == nil {
		return
	}
	if err := s.finalizer.FinalizeOrder(ctx, orderID); err != nil && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Warn(logCtx, fmt.Sprintf("settlement deferred to retry sweep: %v", err))
	}
}

func (s *service) recordWeightTx(ctx context.Context, tx *gorm.DB, input RecordWeightInput) (*models.WeightAdjustment, bool, error) {
	if input.OrderLineID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "order line id required")
	}
	if input.ActualWeightGrams <= 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "actual weight must be positive")
	}
	if input.ReportedAt.IsZero() {
		input.ReportedAt = time.Now().UTC()
	}

	ordersRepo := s.orders.WithTx(tx)
	repo := s.repo.WithTx(tx)

	line, err := ordersRepo.FindLineForUpdate(ctx, input.OrderLineID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order line")
	}

	order, err := ordersRepo.FindOrderForUpdate(ctx, line.OrderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.Status == enums.OrderStatusCanceled {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order is canceled")
	}
	if input.Source == enums.WeightReportSourceCourierApp {
		if input.ReportedBy == nil || order.CourierID == nil || *order.CourierID != *input.ReportedBy {
			return nil, false, pkgerrors.New(pkgerrors.CodeForbidden, "courier is not assigned to this order")
		}
	}

	adjustment, err := repo.FindByLineForUpdate(ctx, line.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load adjustment")
	}

	// Same weight reported again is a no-op regardless of state.
	if adjustment != nil && line.IsWeighed && line.ActualWeightGrams != nil && *line.ActualWeightGrams == input.ActualWeightGrams {
		return adjustment, false, nil
	}

	if adjustment != nil && !reweighable(adjustment.Status) {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("line cannot be re-weighed in status %s", adjustment.Status))
	}

	calc, err := s.calculator.Compute(line.EstimatedWeightGrams, input.ActualWeightGrams, line.UnitPriceCents, line.EstimatedPriceCents)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute adjustment")
	}

	status := enums.AdjustmentStatusAutoApproved
	if calc.RequiresAdminApproval {
		status = enums.AdjustmentStatusPendingAdminApproval
	}

	lineUpdates := map[string]any{
		"actual_weight_grams": input.ActualWeightGrams,
		"is_weighed":          true,
		"weighed_at":          input.ReportedAt,
	}
	if input.ReportedBy != nil {
		lineUpdates["weighed_by_courier_id"] = *input.ReportedBy
	}
	if err := ordersRepo.UpdateLine(ctx, line.ID, lineUpdates); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order line")
	}

	if adjustment == nil {
		adjustment = &models.WeightAdjustment{
			OrderID:     line.OrderID,
			OrderLineID: line.ID,
		}
		applyCalculation(adjustment, line, input.ActualWeightGrams, calc, status)
		if adjustment, err = repo.Create(ctx, adjustment); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create adjustment")
		}
	} else {
		applyCalculation(adjustment, line, input.ActualWeightGrams, calc, status)
		updates := map[string]any{
			"actual_weight_grams":     adjustment.ActualWeightGrams,
			"weight_diff_grams":       adjustment.WeightDiffGrams,
			"difference_percent":      adjustment.DifferencePercent,
			"actual_price_cents":      adjustment.ActualPriceCents,
			"price_diff_cents":        adjustment.PriceDiffCents,
			"status":                  adjustment.Status,
			"requires_admin_approval": adjustment.RequiresAdminApproval,
		}
		if err := repo.Update(ctx, adjustment.ID, updates); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update adjustment")
		}
	}

	actor := eventActor(input)
	weighedEvent := outbox.DomainEvent{
		EventType:     enums.EventAdjustmentWeighed,
		AggregateType: enums.AggregateWeightAdjustment,
		AggregateID:   adjustment.ID,
		Actor:         actor,
		Version:       1,
		Data: payloads.AdjustmentWeighedEvent{
			AdjustmentID:          adjustment.ID,
			OrderID:               line.OrderID,
			OrderLineID:           line.ID,
			EstimatedWeightGrams:  line.EstimatedWeightGrams,
			ActualWeightGrams:     input.ActualWeightGrams,
			DifferencePercent:     calc.DifferencePercent.StringFixed(3),
			RequiresAdminApproval: calc.RequiresAdminApproval,
		},
	}
	if err := s.outbox.Emit(ctx, tx, weighedEvent); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit weighed event")
	}

	if calc.RequiresAdminApproval {
		reviewEvent := outbox.DomainEvent{
			EventType:     enums.EventAdjustmentReviewRequested,
			AggregateType: enums.AggregateWeightAdjustment,
			AggregateID:   adjustment.ID,
			Actor:         actor,
			Version:       1,
			Data: payloads.AdjustmentReviewRequestedEvent{
				AdjustmentID:      adjustment.ID,
				OrderID:           line.OrderID,
				DifferencePercent: calc.DifferencePercent.StringFixed(3),
				Reason:            "weight deviation above threshold",
			},
		}
		if err := s.outbox.Emit(ctx, tx, reviewEvent); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit review event")
		}
	}

	settleReady := false
	remaining, err := ordersRepo.CountUnweighedLines(ctx, line.OrderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unweighed lines")
	}
	if remaining == 0 {
		settleReady = order.PaymentMethod == enums.PaymentMethodCard &&
			adjustment.Status == enums.AdjustmentStatusAutoApproved
		lines, err := ordersRepo.FindLinesByOrder(ctx, line.OrderID)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order lines")
		}
		readyEvent := outbox.DomainEvent{
			EventType:     enums.EventOrderReadyToSettle,
			AggregateType: enums.AggregateOrder,
			AggregateID:   line.OrderID,
			Actor:         actor,
			Version:       1,
			Data: payloads.OrderReadyToSettleEvent{
				OrderID:       line.OrderID,
				PaymentMethod: order.PaymentMethod,
				LineCount:     len(lines),
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, readyEvent); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit ready event")
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":           line.OrderID.String(),
			"order_line_id":      line.ID.String(),
			"adjustment_id":      adjustment.ID.String(),
			"difference_percent": calc.DifferencePercent.StringFixed(3),
			"status":             adjustment.Status,
		})
		s.logg.Info(logCtx, "weight recorded")
	}
	return adjustment, settleReady, nil
}

func (s *service) Preview(ctx context.Context, orderLineID uuid.UUID, actualWeightGrams int64) (*Calculation, error) {
	if orderLineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order line id required")
	}
	line, err := s.orders.FindLine(ctx, orderLineID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order line")
	}
	calc, err := s.calculator.Compute(line.EstimatedWeightGrams, actualWeightGrams, line.UnitPriceCents, line.EstimatedPriceCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute adjustment")
	}
	return &calc, nil
}

// reweighable reports whether a new weight may replace the existing one.
// Once money moved, or an admin rejected the line, the numbers are frozen.
func reweighable(status enums.AdjustmentStatus) bool {
	switch status {
	case enums.AdjustmentStatusPendingWeighing,
		enums.AdjustmentStatusWeighed,
		enums.AdjustmentStatusAutoApproved,
		enums.AdjustmentStatusPendingAdminApproval:
		return true
	default:
		return false
	}
}

func applyCalculation(adjustment *models.WeightAdjustment, line *models.OrderLine, actualWeightGrams int64, calc Calculation, status enums.AdjustmentStatus) {
	adjustment.EstimatedWeightGrams = line.EstimatedWeightGrams
	adjustment.ActualWeightGrams = actualWeightGrams
	adjustment.WeightDiffGrams = calc.WeightDiffGrams
	adjustment.DifferencePercent = calc.DifferencePercent
	adjustment.UnitPriceCents = line.UnitPriceCents
	adjustment.EstimatedPriceCents = line.EstimatedPriceCents
	adjustment.ActualPriceCents = calc.ActualPriceCents
	adjustment.PriceDiffCents = calc.PriceDiffCents
	adjustment.Status = status
	adjustment.RequiresAdminApproval = calc.RequiresAdminApproval
}

func eventActor(input RecordWeightInput) *outbox.ActorRef {
	if input.ReportedBy == nil {
		return &outbox.ActorRef{Role: string(enums.ActorRoleDevice)}
	}
	return &outbox.ActorRef{
		ActorID: *input.ReportedBy,
		Role:    string(enums.ActorRoleCourier),
	}
}
