package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// SettlementTransaction is the append-only ledger of money-movement attempts.
// Failed attempts are recorded alongside successes so gateway retries leave a
// complete trail.
type SettlementTransaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	AdjustmentID     *uuid.UUID              `gorm:"column:adjustment_id;type:uuid"`
	Kind             enums.SettlementKind    `gorm:"column:kind;type:settlement_kind;not null"`
	AmountCents      int64                   `gorm:"column:amount_cents;not null"`
	GatewayReference *string                 `gorm:"column:gateway_reference"`
	IdempotencyKey   string                  `gorm:"column:idempotency_key;not null"`
	Outcome          enums.SettlementOutcome `gorm:"column:outcome;type:settlement_outcome;not null"`
	Notes            *string                 `gorm:"column:notes"`
	AttemptedAt      time.Time               `gorm:"column:attempted_at;not null"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
