package weighing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	kilogram = decimal.NewFromInt(1000)
)

// Calculation is the derived money/weight delta for one line. All derived
// fields come out of Compute together so they can never drift apart.
type Calculation struct {
	WeightDiffGrams       int64
	DifferencePercent     decimal.Decimal
	ActualPriceCents      int64
	PriceDiffCents        int64
	RequiresAdminApproval bool
}

// Calculator turns a confirmed weight into price deltas and routes the result
// to auto-approval or admin review.
type Calculator struct {
	thresholdPercent decimal.Decimal
	floorCents       int64
}

// NewCalculator configures the deviation threshold (whole percent) and the
// optional absolute floor in kurus under which deviations auto-approve
// regardless of percentage. A floor of zero disables that shortcut.
func NewCalculator(thresholdPercent int, floorCents int64) (*Calculator, error) {
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		return nil, fmt.Errorf("threshold percent must be within (0, 100], got %d", thresholdPercent)
	}
	if floorCents < 0 {
		return nil, fmt.Errorf("auto-approve floor must not be negative, got %d", floorCents)
	}
	return &Calculator{
		thresholdPercent: decimal.NewFromInt(int64(thresholdPercent)),
		floorCents:       floorCents,
	}, nil
}

// Compute derives the weight and price deltas for a line. unitPriceCents is
// the quoted price per kilogram; actual price is rounded to the nearest kurus.
func (c *Calculator) Compute(estimatedWeightGrams, actualWeightGrams, unitPriceCents, estimatedPriceCents int64) (Calculation, error) {
	if estimatedWeightGrams <= 0 {
		return Calculation{}, fmt.Errorf("estimated weight must be positive, got %d", estimatedWeightGrams)
	}
	if actualWeightGrams < 0 {
		return Calculation{}, fmt.Errorf("actual weight must not be negative, got %d", actualWeightGrams)
	}
	if unitPriceCents < 0 {
		return Calculation{}, fmt.Errorf("unit price must not be negative, got %d", unitPriceCents)
	}

	estWeight := decimal.NewFromInt(estimatedWeightGrams)
	actWeight := decimal.NewFromInt(actualWeightGrams)

	diffPercent := actWeight.Sub(estWeight).
		Div(estWeight).
		Mul(hundred).
		Round(3)

	actualPrice := actWeight.
		Mul(decimal.NewFromInt(unitPriceCents)).
		Div(kilogram).
		Round(0).
		IntPart()

	calc := Calculation{
		WeightDiffGrams:   actualWeightGrams - estimatedWeightGrams,
		DifferencePercent: diffPercent,
		ActualPriceCents:  actualPrice,
		PriceDiffCents:    actualPrice - estimatedPriceCents,
	}
	calc.RequiresAdminApproval = c.routeToAdmin(diffPercent, calc.PriceDiffCents)
	return calc, nil
}

func (c *Calculator) routeToAdmin(diffPercent decimal.Decimal, priceDiffCents int64) bool {
	if diffPercent.Abs().LessThanOrEqual(c.thresholdPercent) {
		return false
	}
	if c.floorCents > 0 {
		abs := priceDiffCents
		if abs < 0 {
			abs = -abs
		}
		if abs < c.floorCents {
			return false
		}
	}
	return true
}
