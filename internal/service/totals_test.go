package service

import "testing"

func TestComputeTotalsIncrease(t *testing.T) {
	got := ComputeTotals(2500, 2000, 2, 5, 5000, 5000)
	if got.Delta != 7500 {
		t.Fatalf("delta = %d, want 7500", got.Delta)
	}
	if got.NewOrderTotal != 12500 {
		t.Fatalf("new order total = %d, want 12500", got.NewOrderTotal)
	}
	if got.NewAuthorizationAmount != 12500 {
		t.Fatalf("new authorization amount = %d, want 12500", got.NewAuthorizationAmount)
	}
	if got.UsedTaxExclusive {
		t.Fatalf("should use tax-inclusive price")
	}
}

func TestComputeTotalsDecrease(t *testing.T) {
	got := ComputeTotals(2500, 2000, 3, 1, 7500, 7500)
	if got.Delta != -5000 {
		t.Fatalf("delta = %d, want -5000", got.Delta)
	}
	if got.NewOrderTotal != 2500 || got.NewAuthorizationAmount != 2500 {
		t.Fatalf("totals = %d/%d, want 2500/2500", got.NewOrderTotal, got.NewAuthorizationAmount)
	}
}

func TestComputeTotalsUnchangedQuantity(t *testing.T) {
	got := ComputeTotals(2500, 2000, 2, 2, 5000, 5000)
	if got.Delta != 0 {
		t.Fatalf("delta = %d, want 0", got.Delta)
	}
	if got.NewOrderTotal != 5000 || got.NewAuthorizationAmount != 5000 {
		t.Fatalf("totals must be unchanged, got %d/%d", got.NewOrderTotal, got.NewAuthorizationAmount)
	}
}

func TestComputeTotalsFallsBackToBasePrice(t *testing.T) {
	got := ComputeTotals(0, 2000, 2, 4, 4000, 4000)
	if !got.UsedTaxExclusive {
		t.Fatalf("expected tax-exclusive fallback to be flagged")
	}
	if got.Delta != 4000 {
		t.Fatalf("delta = %d, want 4000", got.Delta)
	}
}
