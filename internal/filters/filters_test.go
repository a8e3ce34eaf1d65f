package filters

import (
	"math"
	"testing"
)

func mustFilters(t *testing.T, step, minQty, maxQty, minNotional string) SymbolFilters {
	t.Helper()
	f, err := FiltersFromStrings(step, minQty, maxQty, minNotional)
	if err != nil {
		t.Fatalf("FiltersFromStrings: %v", err)
	}
	return f
}

func TestNormalizeFloorsToStep(t *testing.T) {
	f := mustFilters(t, "0.001", "0.001", "", "")

	q, ok := f.Normalize(0.12345, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "0.123" {
		t.Errorf("expected text 0.123, got %s", got)
	}
	if math.Abs(q.Float64()-0.123) > 1e-12 {
		t.Errorf("expected 0.123, got %v", q.Float64())
	}
}

func TestNormalizeRejectsQuantityBelowOneStep(t *testing.T) {
	f := mustFilters(t, "0.001", "0.001", "", "")

	if _, ok := f.Normalize(0.0004, 100, "MARKET"); ok {
		t.Error("expected no legal quantity when the raw amount floors to zero")
	}
}

func TestNormalizeRejectsNonPositiveInputs(t *testing.T) {
	f := mustFilters(t, "0.001", "0.001", "", "")

	if _, ok := f.Normalize(0, 100, "MARKET"); ok {
		t.Error("expected rejection for zero quantity")
	}
	if _, ok := f.Normalize(1, 0, "MARKET"); ok {
		t.Error("expected rejection for zero reference price")
	}
	if _, ok := f.Normalize(-1, 100, "MARKET"); ok {
		t.Error("expected rejection for negative quantity")
	}
}

func TestNormalizeClampsUpToMinQty(t *testing.T) {
	f := mustFilters(t, "0.001", "0.01", "", "")

	q, ok := f.Normalize(0.005, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "0.01" {
		t.Errorf("expected clamp to 0.01, got %s", got)
	}
}

func TestNormalizeBumpsToMinNotional(t *testing.T) {
	f := mustFilters(t, "0.1", "0.1", "", "5")

	q, ok := f.Normalize(0.2, 10, "LIMIT")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	// 0.2 * 10 = 2 misses the 5 minimum; 0.5 * 10 = 5 clears it.
	if got := q.String(); got != "0.5" {
		t.Errorf("expected bump to 0.5, got %s", got)
	}
}

func TestNormalizeMarketOrdersSkipExemptNotional(t *testing.T) {
	f := mustFilters(t, "0.1", "0.1", "", "5")
	f.MarketNotionalExempt = true

	q, ok := f.Normalize(0.2, 10, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "0.2" {
		t.Errorf("expected no notional bump for exempt market order, got %s", got)
	}

	if q, ok := f.Normalize(0.2, 10, "LIMIT"); !ok || q.String() != "0.5" {
		t.Errorf("expected limit order to still bump, got %v ok=%v", q.String(), ok)
	}
}

func TestNormalizeRejectsWhenBumpExceedsMaxQty(t *testing.T) {
	f := mustFilters(t, "0.1", "0.1", "0.3", "5")

	if _, ok := f.Normalize(0.2, 10, "LIMIT"); ok {
		t.Error("expected rejection: notional bump to 0.5 exceeds maxQty 0.3")
	}
}

func TestNormalizeRejectsAboveMaxQty(t *testing.T) {
	f := mustFilters(t, "0.001", "0.001", "10", "")

	if _, ok := f.Normalize(100, 1, "MARKET"); ok {
		t.Error("expected rejection above maxQty")
	}
}

func TestNormalizeWithoutStepKeepsRawQuantity(t *testing.T) {
	f := mustFilters(t, "", "", "", "")

	q, ok := f.Normalize(1.23456789, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "1.23456789" {
		t.Errorf("expected raw quantity preserved, got %s", got)
	}
}

func TestQuantityStringStripsTrailingZeros(t *testing.T) {
	f := mustFilters(t, "0.001", "", "", "")

	q, ok := f.Normalize(0.05, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "0.05" {
		t.Errorf("expected 0.05, got %s", got)
	}

	q, ok = f.Normalize(2, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "2" {
		t.Errorf("expected 2, got %s", got)
	}
}

func TestNormalizeStepAlignedMinimum(t *testing.T) {
	// minQty not on a step boundary: the effective minimum is the next step up.
	f := mustFilters(t, "0.1", "0.05", "", "")

	q, ok := f.Normalize(0.04, 100, "MARKET")
	if ok {
		t.Fatalf("expected rejection, got %s", q.String())
	}

	q, ok = f.Normalize(0.12, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	if got := q.String(); got != "0.1" {
		t.Errorf("expected 0.1, got %s", got)
	}
}

func TestNormalizeNotionalBumpScenario(t *testing.T) {
	f := mustFilters(t, "0.001", "0.001", "", "10")

	if _, ok := f.Normalize(0.0004, 100, "MARKET"); ok {
		t.Error("expected no legal quantity for 0.0004 at step 0.001")
	}

	q, ok := f.Normalize(0.05, 100, "MARKET")
	if !ok {
		t.Fatal("expected a legal quantity")
	}
	// 0.05 * 100 = 5 misses the 10 minimum; 0.1 * 100 = 10 clears it.
	if got := q.String(); got != "0.1" {
		t.Errorf("expected bump to 0.1, got %s", got)
	}
}

func TestFiltersFromStringsRejectsGarbage(t *testing.T) {
	if _, err := FiltersFromStrings("abc", "", "", ""); err == nil {
		t.Error("expected parse error for invalid step")
	}
}
