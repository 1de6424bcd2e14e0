package weighing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

// PendingReviewFilters narrows the admin review queue.
type PendingReviewFilters struct {
	OrderID *uuid.UUID
	Status  *enums.AdjustmentStatus
}

// PendingReviewList is one page of adjustments awaiting a decision.
type PendingReviewList struct {
	Items      []models.WeightAdjustment
	NextCursor string
}

// Repository defines persistence operations for weight adjustments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, adjustment *models.WeightAdjustment) (*models.WeightAdjustment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error)
	FindByLine(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error)
	FindByLineForUpdate(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WeightAdjustment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPendingReview(ctx context.Context, params pagination.Params, filters PendingReviewFilters) (*PendingReviewList, error)
	CountByStatus(ctx context.Context, status enums.AdjustmentStatus) (int64, error)
	FindCardOrdersForRetry(ctx context.Context, limit int) ([]uuid.UUID, error)
}
