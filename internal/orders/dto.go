package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/haldirect/settlement-backend/pkg/enums"
)

// WeightSummaryLine is one order line joined with its adjustment, if any.
type WeightSummaryLine struct {
	OrderLineID          uuid.UUID               `json:"order_line_id"`
	ProductName          string                  `json:"product_name"`
	EstimatedWeightGrams int64                   `json:"estimated_weight_grams"`
	ActualWeightGrams    *int64                  `json:"actual_weight_grams,omitempty"`
	IsWeighed            bool                    `json:"is_weighed"`
	UnitPriceCents       int64                   `json:"unit_price_cents"`
	EstimatedPriceCents  int64                   `json:"estimated_price_cents"`
	ActualPriceCents     *int64                  `json:"actual_price_cents,omitempty"`
	DifferencePercent    *string                 `json:"difference_percent,omitempty"`
	AdjustmentStatus     *enums.AdjustmentStatus `json:"adjustment_status,omitempty"`
}

// WeightSummary is the customer/admin facing reconciliation view of an order.
type WeightSummary struct {
	OrderID             uuid.UUID           `json:"order_id"`
	OrderNumber         int64               `json:"order_number"`
	PaymentMethod       enums.PaymentMethod `json:"payment_method"`
	Status              enums.OrderStatus   `json:"status"`
	Currency            string              `json:"currency"`
	EstimatedTotalCents int64               `json:"estimated_total_cents"`
	ActualTotalCents    int64               `json:"actual_total_cents"`
	DifferenceCents     int64               `json:"difference_cents"`
	AllWeighed          bool                `json:"all_weighed"`
	AllSettled          bool                `json:"all_settled"`
	Lines               []WeightSummaryLine `json:"lines"`
}

// CourierPerformanceRow aggregates weighing accuracy per courier.
type CourierPerformanceRow struct {
	CourierID           uuid.UUID `json:"courier_id" gorm:"column:courier_id"`
	LinesWeighed        int64     `json:"lines_weighed" gorm:"column:lines_weighed"`
	AvgAbsDiffPercent   string    `json:"avg_abs_diff_percent" gorm:"column:avg_abs_diff_percent"`
	MaxAbsDiffPercent   string    `json:"max_abs_diff_percent" gorm:"column:max_abs_diff_percent"`
	LinesAboveThreshold int64     `json:"lines_above_threshold" gorm:"column:lines_above_threshold"`
}

// CourierPerformanceFilters bounds the aggregation window.
type CourierPerformanceFilters struct {
	CourierID *uuid.UUID
	Since     *time.Time
	Until     *time.Time
}
