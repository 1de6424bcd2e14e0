package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// PreAuthorization is a card hold placed at order time for the estimate plus
// safety margin. A partial unique index on (order_id) where status='active'
// enforces at most one live hold per order.
type PreAuthorization struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	BlockedAmountCents int64               `gorm:"column:blocked_amount_cents;not null"`
	GatewayReference   string              `gorm:"column:gateway_reference;not null"`
	Status             enums.PreAuthStatus `gorm:"column:status;type:preauth_status;not null;default:'active'"`
	ExpiresAt          time.Time           `gorm:"column:expires_at;not null"`
	ClosedAt           *time.Time          `gorm:"column:closed_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
