// Package filters normalizes raw order quantities against the numeric
// constraints an exchange enforces per symbol (lot step, min/max quantity,
// minimum notional). All arithmetic is fixed-point decimal: binary floating
// point rounds unpredictably at exactly the boundary the venue checks.
package filters

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultPrecision is used to render quantities when the venue defines no
// lot step.
const defaultPrecision = 8

// notional bump re-checks are bounded; one extra step increment is enough to
// cover the fractional-step undershoot of ceil-to-step division.
const maxNotionalBumps = 2

// SymbolFilters holds the venue's per-symbol order constraints. Zero values
// mean the corresponding filter is not defined by the venue.
type SymbolFilters struct {
	Step        decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal

	// MarketNotionalExempt marks venues where the minimum-notional filter is
	// not applied to market orders.
	MarketNotionalExempt bool
}

// FiltersFromStrings builds SymbolFilters from the venue's wire-format decimal
// strings, preserving exact precision. Empty strings leave the filter unset.
func FiltersFromStrings(step, minQty, maxQty, minNotional string) (SymbolFilters, error) {
	var f SymbolFilters
	var err error
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	if f.Step, err = parse(step); err != nil {
		return SymbolFilters{}, err
	}
	if f.MinQty, err = parse(minQty); err != nil {
		return SymbolFilters{}, err
	}
	if f.MaxQty, err = parse(maxQty); err != nil {
		return SymbolFilters{}, err
	}
	if f.MinNotional, err = parse(minNotional); err != nil {
		return SymbolFilters{}, err
	}
	return f, nil
}

// Quantity is an exchange-legal order quantity together with the precision
// implied by the symbol's lot step.
type Quantity struct {
	dec       decimal.Decimal
	precision int32
}

// Float64 returns the quantity for internal accounting.
func (q Quantity) Float64() float64 {
	f, _ := q.dec.Float64()
	return f
}

// String renders the quantity at the step-implied precision with
// insignificant trailing digits stripped, ready for the venue's wire format.
func (q Quantity) String() string {
	s := q.dec.StringFixed(q.precision)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// Normalize converts a raw desired quantity into an exchange-legal one:
//
//  1. floor the raw quantity to the lot step;
//  2. reject quantities below the step-aligned minimum;
//  3. if the minimum notional applies and is not met, raise the quantity to
//     the smallest step multiple whose notional clears it, re-checking after
//     rounding (ceil-to-step can undershoot by a fraction of a step);
//  4. reject if the result exceeds maxQty or still fails any filter.
//
// ok is false when no legal quantity exists; the caller must not submit an
// order in that case.
func (f SymbolFilters) Normalize(rawQty, refPrice float64, orderType string) (Quantity, bool) {
	if rawQty <= 0 || refPrice <= 0 {
		return Quantity{}, false
	}

	qty := decimal.NewFromFloat(rawQty)
	price := decimal.NewFromFloat(refPrice)

	if f.Step.IsPositive() {
		qty = floorToStep(qty, f.Step)
	}
	if !qty.IsPositive() {
		return Quantity{}, false
	}

	// The effective minimum is minQty rounded up to a step boundary.
	effMin := f.MinQty
	if effMin.IsPositive() && f.Step.IsPositive() {
		effMin = ceilToStep(effMin, f.Step)
	}
	if effMin.IsPositive() && qty.LessThan(effMin) {
		qty = effMin
	}

	if f.notionalApplies(orderType) {
		for i := 0; i < maxNotionalBumps && qty.Mul(price).LessThan(f.MinNotional); i++ {
			if i == 0 {
				need := f.MinNotional.Div(price)
				if f.Step.IsPositive() {
					need = ceilToStep(need, f.Step)
				}
				if need.GreaterThan(qty) {
					qty = need
				}
			} else if f.Step.IsPositive() {
				qty = qty.Add(f.Step)
			} else {
				return Quantity{}, false
			}
		}
		if qty.Mul(price).LessThan(f.MinNotional) {
			return Quantity{}, false
		}
	}

	if f.MaxQty.IsPositive() && qty.GreaterThan(f.MaxQty) {
		return Quantity{}, false
	}
	if effMin.IsPositive() && qty.LessThan(effMin) {
		return Quantity{}, false
	}

	return Quantity{dec: qty, precision: f.precision()}, true
}

func (f SymbolFilters) notionalApplies(orderType string) bool {
	if !f.MinNotional.IsPositive() {
		return false
	}
	if f.MarketNotionalExempt && strings.EqualFold(orderType, "MARKET") {
		return false
	}
	return true
}

// precision is the number of decimal places implied by the lot step.
func (f SymbolFilters) precision() int32 {
	if !f.Step.IsPositive() {
		return defaultPrecision
	}
	if exp := f.Step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Ceil().Mul(step)
}
