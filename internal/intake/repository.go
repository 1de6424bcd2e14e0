package intake

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
	"github.com/haldirect/settlement-backend/pkg/enums"
)

// Repository persists the inbound event idempotency ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.InboundEvent) (*models.InboundEvent, error)
	FindByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error)
	SetStatus(ctx context.Context, id string, status enums.IntakeStatus) error
	Delete(ctx context.Context, id string) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the gorm-backed intake repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.InboundEvent) (*models.InboundEvent, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error) {
	var event models.InboundEvent
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) SetStatus(ctx context.Context, id string, status enums.IntakeStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.InboundEvent{}).
		Where("id = ?", id).
		Update("processing_status", status).Error
}

func (r *repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.InboundEvent{}).Error
}

func (r *repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ? AND processing_status IN ?", cutoff,
			[]enums.IntakeStatus{enums.IntakeStatusProcessed, enums.IntakeStatusSkipped}).
		Delete(&models.InboundEvent{})
	return result.RowsAffected, result.Error
}
