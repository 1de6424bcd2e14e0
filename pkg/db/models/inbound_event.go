package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// InboundEvent is the idempotency ledger for external reports. The unique
// external_event_id constraint is the single choke point that drops retried
// weight reports and gateway webhooks before they touch state.
type InboundEvent struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalEventID  string             `gorm:"column:external_event_id;not null;unique"`
	Source           string             `gorm:"column:source;not null"`
	Payload          json.RawMessage    `gorm:"column:payload;type:jsonb"`
	ProcessingStatus enums.IntakeStatus `gorm:"column:processing_status;type:intake_status;not null;default:'pending'"`
	ReceivedAt       time.Time          `gorm:"column:received_at;not null"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
