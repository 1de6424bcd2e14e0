package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
)

// PreAuthRepository manages card holds.
type PreAuthRepository interface {
	WithTx(tx *gorm.DB) PreAuthRepository
	Create(ctx context.Context, preAuth *models.PreAuthorization) (*models.PreAuthorization, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error)
	FindActiveByOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error)
	FindActiveByReference(ctx context.Context, gatewayReference string) (*models.PreAuthorization, error)
	FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.PreAuthorization, error)
	Close(ctx context.Context, id uuid.UUID, status enums.PreAuthStatus, closedAt time.Time) error
}

// LedgerRepository appends money-movement attempts.
type LedgerRepository interface {
	WithTx(tx *gorm.DB) LedgerRepository
	Append(ctx context.Context, txn *models.SettlementTransaction) (*models.SettlementTransaction, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementTransaction, error)
	FindSuccessByKey(ctx context.Context, idempotencyKey string) (*models.SettlementTransaction, error)
	CountSuccessByOrderAndKind(ctx context.Context, orderID uuid.UUID, kind enums.SettlementKind) (int64, error)
}
