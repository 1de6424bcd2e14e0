package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
)

type preAuthRepository struct {
	db *gorm.DB
}

// NewPreAuthRepository builds a pre-authorization repository.
func NewPreAuthRepository(db *gorm.DB) PreAuthRepository {
	return &preAuthRepository{db: db}
}

func (r *preAuthRepository) WithTx(tx *gorm.DB) PreAuthRepository {
	if tx == nil {
		return r
	}
	return &preAuthRepository{db: tx}
}

func (r *preAuthRepository) Create(ctx context.Context, preAuth *models.PreAuthorization) (*models.PreAuthorization, error) {
	if err := r.db.WithContext(ctx).Create(preAuth).Error; err != nil {
		return nil, err
	}
	return preAuth, nil
}

func (r *preAuthRepository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error) {
	var preAuth models.PreAuthorization
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PreAuthStatusActive).
		First(&preAuth).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &preAuth, nil
}

func (r *preAuthRepository) FindActiveByOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.PreAuthorization, error) {
	var preAuth models.PreAuthorization
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderID, enums.PreAuthStatusActive).
		First(&preAuth).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &preAuth, nil
}

func (r *preAuthRepository) FindActiveByReference(ctx context.Context, gatewayReference string) (*models.PreAuthorization, error) {
	var preAuth models.PreAuthorization
	err := r.db.WithContext(ctx).
		Where("gateway_reference = ? AND status = ?", gatewayReference, enums.PreAuthStatusActive).
		First(&preAuth).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &preAuth, nil
}

func (r *preAuthRepository) FindExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.PreAuthorization, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.PreAuthorization
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.PreAuthStatusActive, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *preAuthRepository) Close(ctx context.Context, id uuid.UUID, status enums.PreAuthStatus, closedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PreAuthorization{}).
		Where("id = ? AND status = ?", id, enums.PreAuthStatusActive).
		Updates(map[string]any{
			"status":    status,
			"closed_at": closedAt,
		}).Error
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository builds the settlement transaction ledger.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	if tx == nil {
		return r
	}
	return &ledgerRepository{db: tx}
}

func (r *ledgerRepository) Append(ctx context.Context, txn *models.SettlementTransaction) (*models.SettlementTransaction, error) {
	if txn.AttemptedAt.IsZero() {
		txn.AttemptedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *ledgerRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementTransaction, error) {
	var rows []models.SettlementTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempted_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *ledgerRepository) FindSuccessByKey(ctx context.Context, idempotencyKey string) (*models.SettlementTransaction, error) {
	var txn models.SettlementTransaction
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND outcome = ?", idempotencyKey, enums.SettlementOutcomeSuccess).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *ledgerRepository) CountSuccessByOrderAndKind(ctx context.Context, orderID uuid.UUID, kind enums.SettlementKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SettlementTransaction{}).
		Where("order_id = ? AND kind = ? AND outcome = ?", orderID, kind, enums.SettlementOutcomeSuccess).
		Count(&count).Error
	return count, err
}
