package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine captures one weight-variable item on an order. Prices quoted at
// order time are estimates; the actual columns stay null until a courier or
// scale device reports the real weight.
type OrderLine struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductName          string     `gorm:"column:product_name;not null"`
	EstimatedWeightGrams int64      `gorm:"column:estimated_weight_grams;not null"`
	ActualWeightGrams    *int64     `gorm:"column:actual_weight_grams"`
	IsWeighed            bool       `gorm:"column:is_weighed;not null;default:false"`
	WeighedAt            *time.Time `gorm:"column:weighed_at"`
	WeighedByCourierID   *uuid.UUID `gorm:"column:weighed_by_courier_id;type:uuid"`
	UnitPriceCents       int64      `gorm:"column:unit_price_cents;not null"`
	EstimatedPriceCents  int64      `gorm:"column:estimated_price_cents;not null"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
