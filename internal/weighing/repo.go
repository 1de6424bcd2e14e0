package weighing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
	"github.com/haldirect/settlement-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a weight adjustment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, adjustment *models.WeightAdjustment) (*models.WeightAdjustment, error) {
	if err := r.db.WithContext(ctx).Create(adjustment).Error; err != nil {
		return nil, err
	}
	return adjustment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	var adjustment models.WeightAdjustment
	err := r.db.WithContext(ctx).
		Preload("Decisions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&adjustment).Error
	if err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WeightAdjustment, error) {
	var adjustment models.WeightAdjustment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&adjustment).Error
	if err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindByLine(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	var adjustment models.WeightAdjustment
	err := r.db.WithContext(ctx).
		Where("order_line_id = ?", orderLineID).
		First(&adjustment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindByLineForUpdate(ctx context.Context, orderLineID uuid.UUID) (*models.WeightAdjustment, error) {
	var adjustment models.WeightAdjustment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_line_id = ?", orderLineID).
		First(&adjustment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WeightAdjustment, error) {
	var adjustments []models.WeightAdjustment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&adjustments).Error
	if err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.WeightAdjustment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListPendingReview(ctx context.Context, params pagination.Params, filters PendingReviewFilters) (*PendingReviewList, error) {
	normalizedLimit := pagination.NormalizeLimit(params.Limit)
	decodedCursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.WeightAdjustment{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	} else {
		query = query.Where("status IN ?", []enums.AdjustmentStatus{
			enums.AdjustmentStatusPendingAdminApproval,
			enums.AdjustmentStatusSettlementFailed,
		})
	}
	if filters.OrderID != nil {
		query = query.Where("order_id = ?", *filters.OrderID)
	}
	if decodedCursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			decodedCursor.CreatedAt, decodedCursor.CreatedAt, decodedCursor.ID)
	}

	var rows []models.WeightAdjustment
	err = query.
		Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	list := &PendingReviewList{Items: rows}
	if len(rows) > normalizedLimit {
		list.Items = rows[:normalizedLimit]
		last := list.Items[len(list.Items)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

func (r *repository) CountByStatus(ctx context.Context, status enums.AdjustmentStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WeightAdjustment{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *repository) FindCardOrdersForRetry(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	var orderIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.WeightAdjustment{}).
		Distinct("weight_adjustments.order_id").
		Joins("JOIN orders ON orders.id = weight_adjustments.order_id").
		Where("orders.payment_method = ?", enums.PaymentMethodCard).
		Where("weight_adjustments.status IN ?", []enums.AdjustmentStatus{
			enums.AdjustmentStatusAutoApproved,
			enums.AdjustmentStatusSettlementPending,
			enums.AdjustmentStatusSettlementFailed,
		}).
		Limit(limit).
		Pluck("weight_adjustments.order_id", &orderIDs).Error
	if err != nil {
		return nil, err
	}
	return orderIDs, nil
}
