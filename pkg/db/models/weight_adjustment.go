package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// WeightAdjustment reconciles estimated vs actual weight for one order line.
// Rows are financial audit records and are never physically deleted. The
// difference columns are derived by the calculator and recomputed on change,
// never mutated independently.
type WeightAdjustment struct {
	ID                    uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	OrderLineID           uuid.UUID              `gorm:"column:order_line_id;type:uuid;not null;unique"`
	EstimatedWeightGrams  int64                  `gorm:"column:estimated_weight_grams;not null"`
	ActualWeightGrams     int64                  `gorm:"column:actual_weight_grams;not null"`
	WeightDiffGrams       int64                  `gorm:"column:weight_diff_grams;not null"`
	DifferencePercent     decimal.Decimal        `gorm:"column:difference_percent;type:numeric(8,3);not null"`
	UnitPriceCents        int64                  `gorm:"column:unit_price_cents;not null"`
	EstimatedPriceCents   int64                  `gorm:"column:estimated_price_cents;not null"`
	ActualPriceCents      int64                  `gorm:"column:actual_price_cents;not null"`
	PriceDiffCents        int64                  `gorm:"column:price_diff_cents;not null"`
	Status                enums.AdjustmentStatus `gorm:"column:status;type:adjustment_status;not null;default:'pending_weighing'"`
	RequiresAdminApproval bool                   `gorm:"column:requires_admin_approval;not null;default:false"`
	FailureCount          int                    `gorm:"column:failure_count;not null;default:0"`
	FailureReason         *string                `gorm:"column:failure_reason"`
	IsSettled             bool                   `gorm:"column:is_settled;not null;default:false"`
	SettledAt             *time.Time             `gorm:"column:settled_at"`
	PaymentReference      *string                `gorm:"column:payment_reference"`
	Decisions             []AdminDecision        `gorm:"foreignKey:AdjustmentID;constraint:OnDelete:RESTRICT"`
	CreatedAt             time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
