package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
)

type adjustmentReader interface {
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WeightAdjustment, error)
}

// Service exposes the read surface over orders: reconciliation summaries and
// courier accuracy aggregates.
type Service interface {
	GetWeightSummary(ctx context.Context, orderID uuid.UUID) (*WeightSummary, error)
	CourierPerformance(ctx context.Context, filters CourierPerformanceFilters) ([]CourierPerformanceRow, error)
}

type service struct {
	repo             Repository
	adjustments      adjustmentReader
	thresholdPercent int
}

// NewService builds the orders read service.
func NewService(repo Repository, adjustments adjustmentReader, thresholdPercent int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if adjustments == nil {
		return nil, fmt.Errorf("adjustment reader required")
	}
	if thresholdPercent <= 0 {
		return nil, fmt.Errorf("threshold percent must be positive")
	}
	return &service{
		repo:             repo,
		adjustments:      adjustments,
		thresholdPercent: thresholdPercent,
	}, nil
}

func (s *service) GetWeightSummary(ctx context.Context, orderID uuid.UUID) (*WeightSummary, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	adjustments, err := s.adjustments.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load adjustments")
	}
	byLine := make(map[uuid.UUID]models.WeightAdjustment, len(adjustments))
	for _, adj := range adjustments {
		byLine[adj.OrderLineID] = adj
	}

	summary := &WeightSummary{
		OrderID:             order.ID,
		OrderNumber:         order.OrderNumber,
		PaymentMethod:       order.PaymentMethod,
		Status:              order.Status,
		Currency:            order.Currency,
		EstimatedTotalCents: order.EstimatedTotalCents,
		AllWeighed:          true,
		AllSettled:          len(order.Lines) > 0,
		Lines:               make([]WeightSummaryLine, 0, len(order.Lines)),
	}

	for _, line := range order.Lines {
		row := WeightSummaryLine{
			OrderLineID:          line.ID,
			ProductName:          line.ProductName,
			EstimatedWeightGrams: line.EstimatedWeightGrams,
			ActualWeightGrams:    line.ActualWeightGrams,
			IsWeighed:            line.IsWeighed,
			UnitPriceCents:       line.UnitPriceCents,
			EstimatedPriceCents:  line.EstimatedPriceCents,
		}

		lineTotal := line.EstimatedPriceCents
		if adj, ok := byLine[line.ID]; ok {
			actual := adj.ActualPriceCents
			percent := adj.DifferencePercent.StringFixed(3)
			status := adj.Status
			row.ActualPriceCents = &actual
			row.DifferencePercent = &percent
			row.AdjustmentStatus = &status
			lineTotal = adj.ActualPriceCents
			if status != enums.AdjustmentStatusSettled {
				summary.AllSettled = false
			}
		} else {
			summary.AllSettled = false
		}
		if !line.IsWeighed {
			summary.AllWeighed = false
		}

		summary.ActualTotalCents += lineTotal
		summary.Lines = append(summary.Lines, row)
	}
	if len(order.Lines) == 0 {
		summary.AllWeighed = false
	}

	summary.DifferenceCents = summary.ActualTotalCents - summary.EstimatedTotalCents
	return summary, nil
}

func (s *service) CourierPerformance(ctx context.Context, filters CourierPerformanceFilters) ([]CourierPerformanceRow, error) {
	rows, err := s.repo.CourierPerformance(ctx, s.thresholdPercent, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "courier performance query")
	}
	return rows, nil
}
