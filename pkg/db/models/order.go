package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// Order is the settlement engine's view of a customer order. Catalog and
// delivery concerns live elsewhere; the columns here are the ones weighing
// and money reconciliation read or guard on.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber         int64               `gorm:"column:order_number;not null;unique"`
	CustomerID          uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	CourierID           *uuid.UUID          `gorm:"column:courier_id;type:uuid"`
	PaymentMethod       enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Status              enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'created'"`
	Currency            string              `gorm:"column:currency;not null;default:'TRY'"`
	EstimatedTotalCents int64               `gorm:"column:estimated_total_cents;not null"`
	CardSourceID        *string             `gorm:"column:card_source_id"`
	Lines               []OrderLine         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
