package weighing

import (
	"testing"
)

func TestNewCalculatorRejectsBadThreshold(t *testing.T) {
	for _, percent := range []int{0, -5, 101} {
		if _, err := NewCalculator(percent, 0); err == nil {
			t.Fatalf("expected error for threshold %d", percent)
		}
	}
}

func TestNewCalculatorRejectsNegativeFloor(t *testing.T) {
	if _, err := NewCalculator(20, -1); err == nil {
		t.Fatal("expected error for negative floor")
	}
}

func TestComputeWithinThresholdAutoApproves(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	// 1000g estimated, 1150g delivered at 20 TRY/kg.
	result, err := calc.Compute(1000, 1150, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.WeightDiffGrams != 150 {
		t.Fatalf("expected weight diff 150 got %d", result.WeightDiffGrams)
	}
	if got := result.DifferencePercent.StringFixed(3); got != "15.000" {
		t.Fatalf("expected 15.000 percent got %s", got)
	}
	if result.ActualPriceCents != 2300 {
		t.Fatalf("expected actual price 2300 got %d", result.ActualPriceCents)
	}
	if result.PriceDiffCents != 300 {
		t.Fatalf("expected price diff 300 got %d", result.PriceDiffCents)
	}
	if result.RequiresAdminApproval {
		t.Fatal("expected auto approval")
	}
}

func TestComputeAboveThresholdRoutesToAdmin(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	result, err := calc.Compute(1000, 1300, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := result.DifferencePercent.StringFixed(3); got != "30.000" {
		t.Fatalf("expected 30.000 percent got %s", got)
	}
	if !result.RequiresAdminApproval {
		t.Fatal("expected admin approval route")
	}
}

func TestComputeExactThresholdStaysAuto(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	result, err := calc.Compute(1000, 1200, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.RequiresAdminApproval {
		t.Fatal("expected exact threshold to auto-approve")
	}
}

func TestComputeShortageProducesNegativeDiff(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	result, err := calc.Compute(1000, 900, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.WeightDiffGrams != -100 {
		t.Fatalf("expected weight diff -100 got %d", result.WeightDiffGrams)
	}
	if result.PriceDiffCents != -200 {
		t.Fatalf("expected price diff -200 got %d", result.PriceDiffCents)
	}
	if result.RequiresAdminApproval {
		t.Fatal("expected auto approval for 10 percent shortage")
	}
}

func TestComputeRoundsActualPriceToNearestKurus(t *testing.T) {
	calc := mustCalculator(t, 50, 0)

	// 333g at 999 kurus/kg = 332.667 kurus, rounds to 333.
	result, err := calc.Compute(300, 333, 999, 300)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.ActualPriceCents != 333 {
		t.Fatalf("expected 333 got %d", result.ActualPriceCents)
	}
}

func TestComputePercentPrecision(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	result, err := calc.Compute(300, 400, 1000, 300)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := result.DifferencePercent.StringFixed(3); got != "33.333" {
		t.Fatalf("expected 33.333 got %s", got)
	}
}

func TestComputeFloorKeepsSmallAmountsAuto(t *testing.T) {
	calc := mustCalculator(t, 20, 500)

	// 30 percent over but only 300 kurus more, below the 500 kurus floor.
	result, err := calc.Compute(1000, 1300, 1000, 1000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.PriceDiffCents != 300 {
		t.Fatalf("expected price diff 300 got %d", result.PriceDiffCents)
	}
	if result.RequiresAdminApproval {
		t.Fatal("expected floor to keep the line auto-approved")
	}

	// Same percentage at a higher unit price clears the floor.
	result, err = calc.Compute(1000, 1300, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !result.RequiresAdminApproval {
		t.Fatal("expected admin route above the floor")
	}
}

func TestComputeZeroActualWeight(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	result, err := calc.Compute(1000, 0, 2000, 2000)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.ActualPriceCents != 0 {
		t.Fatalf("expected zero price got %d", result.ActualPriceCents)
	}
	if result.PriceDiffCents != -2000 {
		t.Fatalf("expected price diff -2000 got %d", result.PriceDiffCents)
	}
	if !result.RequiresAdminApproval {
		t.Fatal("expected total shortage to require review")
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	calc := mustCalculator(t, 20, 0)

	if _, err := calc.Compute(0, 100, 1000, 100); err == nil {
		t.Fatal("expected error for zero estimated weight")
	}
	if _, err := calc.Compute(1000, -1, 1000, 1000); err == nil {
		t.Fatal("expected error for negative actual weight")
	}
	if _, err := calc.Compute(1000, 1000, -1, 1000); err == nil {
		t.Fatal("expected error for negative unit price")
	}
}

func mustCalculator(t *testing.T, threshold int, floor int64) *Calculator {
	t.Helper()
	calc, err := NewCalculator(threshold, floor)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	return calc
}
