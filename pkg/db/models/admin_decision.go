package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// AdminDecision is one arbitration verdict stacked onto an adjustment's
// history. Decisions are append-only so the audit trail survives later
// retries and overrides.
type AdminDecision struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AdjustmentID       uuid.UUID               `gorm:"column:adjustment_id;type:uuid;not null;index"`
	ReviewerID         uuid.UUID               `gorm:"column:reviewer_id;type:uuid;not null"`
	Action             enums.ArbitrationAction `gorm:"column:action;type:arbitration_action;not null"`
	AdjustedPriceCents *int64                  `gorm:"column:adjusted_price_cents"`
	Note               *string                 `gorm:"column:note"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
}
