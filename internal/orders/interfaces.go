package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error)
	FindLineForUpdate(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error)
	FindLinesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error)
	UpdateLine(ctx context.Context, lineID uuid.UUID, updates map[string]any) error
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	CountUnweighedLines(ctx context.Context, orderID uuid.UUID) (int64, error)
	CourierPerformance(ctx context.Context, thresholdPercent int, filters CourierPerformanceFilters) ([]CourierPerformanceRow, error)
}
