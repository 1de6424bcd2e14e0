package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haldirect/settlement-backend/pkg/db/models"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderForUpdate locks the order row for the remainder of the enclosing
// transaction. Callers must run inside WithTx.
func (r *repository) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	err := r.db.WithContext(ctx).
		Where("id = ?", lineID).
		First(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) FindLineForUpdate(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", lineID).
		First(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) FindLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repository) UpdateLine(ctx context.Context, lineID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Updates(updates).Error
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) CountUnweighedLines(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("order_id = ? AND is_weighed = FALSE", orderID).
		Count(&count).Error
	return count, err
}

func (r *repository) CourierPerformance(ctx context.Context, thresholdPercent int, filters CourierPerformanceFilters) ([]CourierPerformanceRow, error) {
	query := r.db.WithContext(ctx).
		Table("order_lines ol").
		Select(`ol.weighed_by_courier_id AS courier_id,
COUNT(*) AS lines_weighed,
ROUND(AVG(ABS(wa.difference_percent)), 3)::text AS avg_abs_diff_percent,
ROUND(MAX(ABS(wa.difference_percent)), 3)::text AS max_abs_diff_percent,
COUNT(*) FILTER (WHERE ABS(wa.difference_percent) > ?) AS lines_above_threshold`, thresholdPercent).
		Joins("JOIN weight_adjustments wa ON wa.order_line_id = ol.id").
		Where("ol.is_weighed = TRUE AND ol.weighed_by_courier_id IS NOT NULL")

	if filters.CourierID != nil {
		query = query.Where("ol.weighed_by_courier_id = ?", *filters.CourierID)
	}
	if filters.Since != nil {
		query = query.Where("ol.weighed_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("ol.weighed_at < ?", *filters.Until)
	}

	var rows []CourierPerformanceRow
	err := query.
		Group("ol.weighed_by_courier_id").
		Order("lines_weighed DESC").
		Scan(&rows).Error
	return rows, err
}
