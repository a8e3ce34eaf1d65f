package portfolio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testFilters(t *testing.T, step, minQty, minNotional string) filters.SymbolFilters {
	t.Helper()
	f, err := filters.FiltersFromStrings(step, minQty, "", minNotional)
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	return f
}

func fixedEngine(t *testing.T, cash float64) *Engine {
	t.Helper()
	return New("BTCUSDT", cash, Params{
		FixedPosition:     true,
		StartPositionSize: 1,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, Risk{}, testFilters(t, "0.001", "0.001", ""))
}

func fill(e *Engine, side types.Side, qty, price float64, ts time.Time) types.OrderResult {
	r := types.OrderResult{Side: side, Status: "FILLED", FilledQty: qty, AvgPrice: price, Ts: ts}
	e.ApplyFill(&r, price, ts)
	return r
}

func TestEnterAddExitCycle(t *testing.T) {
	ctx := context.Background()
	e := fixedEngine(t, 1000)

	// ENTER: one base unit at 100.
	orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, t0)
	if len(orders) != 1 {
		t.Fatalf("expected 1 entry order, got %d", len(orders))
	}
	if orders[0].Side != types.SideBuy || orders[0].Quantity != 1 {
		t.Fatalf("unexpected entry order: %+v", orders[0])
	}
	fill(e, types.SideBuy, 1, 100, t0)

	st := e.State()
	if st.Levels != 1 || st.BaseUnit != 1 {
		t.Errorf("after entry: levels=%d baseUnit=%v", st.Levels, st.BaseUnit)
	}

	// ADD level 2: base unit doubled.
	orders = e.Decide(ctx, types.Signal{Action: types.ActionAdd}, 95, t0.Add(time.Hour))
	if len(orders) != 1 || orders[0].Quantity != 2 {
		t.Fatalf("expected add of 2, got %+v", orders)
	}
	fill(e, types.SideBuy, 2, 95, t0.Add(time.Hour))

	// ADD level 3: doubled again.
	orders = e.Decide(ctx, types.Signal{Action: types.ActionAdd}, 92.5, t0.Add(2*time.Hour))
	if len(orders) != 1 || orders[0].Quantity != 4 {
		t.Fatalf("expected add of 4, got %+v", orders)
	}
	fill(e, types.SideBuy, 4, 92.5, t0.Add(2*time.Hour))

	st = e.State()
	// (1*100 + 2*95 + 4*92.5) / 7 = 660/7
	if math.Abs(st.AvgPrice-94.2857) > 0.01 {
		t.Errorf("expected avg price near 94.29, got %v", st.AvgPrice)
	}
	if st.Position != 7 || st.Levels != 3 {
		t.Errorf("expected position 7 at 3 levels, got %v/%d", st.Position, st.Levels)
	}

	// Level cap reached.
	if orders = e.Decide(ctx, types.Signal{Action: types.ActionAdd}, 90, t0.Add(3*time.Hour)); len(orders) != 0 {
		t.Errorf("expected add suppressed at max levels, got %+v", orders)
	}

	// EXIT sells the whole position and resets the ledger.
	orders = e.Decide(ctx, types.Signal{Action: types.ActionExit}, 96, t0.Add(4*time.Hour))
	if len(orders) != 1 || orders[0].Side != types.SideSell || orders[0].Quantity != 7 {
		t.Fatalf("expected full exit of 7, got %+v", orders)
	}
	fill(e, types.SideSell, 7, 96, t0.Add(4*time.Hour))

	st = e.State()
	if st.Position != 0 || st.AvgPrice != 0 || st.Levels != 0 || st.BaseUnit != 0 {
		t.Errorf("expected flat ledger after exit, got %+v", st)
	}
	wantCash := 1000.0 - 660 + 7*96
	if math.Abs(st.Cash-wantCash) > 1e-9 {
		t.Errorf("expected cash %v, got %v", wantCash, st.Cash)
	}
}

func TestBlendedAverageAcrossUnevenFills(t *testing.T) {
	e := fixedEngine(t, 1000)

	fill(e, types.SideBuy, 1.0, 100, t0)
	fill(e, types.SideBuy, 2.5, 90, t0.Add(time.Hour))

	st := e.State()
	// (1*100 + 2.5*90) / 3.5
	if math.Abs(st.AvgPrice-94.29) > 0.01 {
		t.Errorf("expected avg price 94.29, got %v", st.AvgPrice)
	}
	if st.Levels != 2 || st.BaseUnit != 1 {
		t.Errorf("expected levels 2 with base unit 1, got %+v", st)
	}

	fill(e, types.SideSell, 3.5, 110, t0.Add(2*time.Hour))
	st = e.State()
	if st.Position != 0 || st.AvgPrice != 0 || st.Levels != 0 {
		t.Errorf("expected flat after full sell, got %+v", st)
	}
}

func TestEnterIgnoredWhilePositionOpen(t *testing.T) {
	ctx := context.Background()
	e := fixedEngine(t, 1000)
	fill(e, types.SideBuy, 1, 100, t0)

	if orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, t0.Add(time.Hour)); len(orders) != 0 {
		t.Errorf("expected no entry while position open, got %+v", orders)
	}
}

func TestCooldownSuppressesReentry(t *testing.T) {
	ctx := context.Background()
	e := New("BTCUSDT", 1000, Params{
		FixedPosition:     true,
		StartPositionSize: 1,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, Risk{CooldownMinutes: 30}, testFilters(t, "0.001", "0.001", ""))

	fill(e, types.SideBuy, 1, 100, t0)
	fill(e, types.SideSell, 1, 105, t0.Add(time.Hour))

	exitAt := t0.Add(time.Hour)
	if orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, exitAt.Add(10*time.Minute)); len(orders) != 0 {
		t.Errorf("expected entry suppressed during cooldown, got %+v", orders)
	}
	if orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, exitAt.Add(31*time.Minute)); len(orders) != 1 {
		t.Errorf("expected entry after cooldown, got %+v", orders)
	}
}

func TestEquityFractionSizing(t *testing.T) {
	ctx := context.Background()
	e := New("BTCUSDT", 1000, Params{
		BasePositionPct:   0.1,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, Risk{}, testFilters(t, "0.001", "0.001", ""))

	orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, t0)
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	// 10% of 1000 equity at price 100 is 1 base unit.
	if math.Abs(orders[0].Quantity-1) > 1e-9 {
		t.Errorf("expected quantity 1, got %v", orders[0].Quantity)
	}
}

func TestSignalSizeHintOverridesSizing(t *testing.T) {
	ctx := context.Background()
	e := fixedEngine(t, 1000)

	orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter, Size: 0.25}, 100, t0)
	if len(orders) != 1 || math.Abs(orders[0].Quantity-0.25) > 1e-9 {
		t.Fatalf("expected size hint 0.25 honored, got %+v", orders)
	}
}

func TestNotionalCapBlocksBuy(t *testing.T) {
	ctx := context.Background()
	e := New("BTCUSDT", 10000, Params{
		FixedPosition:     true,
		StartPositionSize: 2,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, Risk{MaxNotional: 100}, testFilters(t, "0.001", "0.001", ""))

	if orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, t0); len(orders) != 0 {
		t.Errorf("expected entry blocked by notional cap, got %+v", orders)
	}
}

func TestNormalizationFallbackSubmitsRawQuantity(t *testing.T) {
	ctx := context.Background()
	// maxQty below the desired size makes every legal rendering impossible.
	flt, err := filters.FiltersFromStrings("0.001", "0.001", "0.1", "")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	e := New("BTCUSDT", 1000, Params{
		FixedPosition:     true,
		StartPositionSize: 0.5,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, Risk{}, flt)

	orders := e.Decide(ctx, types.Signal{Action: types.ActionEnter}, 100, t0)
	if len(orders) != 1 {
		t.Fatalf("expected fallback order, got %d", len(orders))
	}
	if math.Abs(orders[0].Quantity-0.5) > 1e-9 || orders[0].QuantityText != "" {
		t.Errorf("expected raw quantity 0.5 with no normalized text, got %+v", orders[0])
	}
}

func TestExitSellsDustRemainder(t *testing.T) {
	ctx := context.Background()
	e := fixedEngine(t, 1000)
	fill(e, types.SideBuy, 1.0005, 100, t0)

	orders := e.Decide(ctx, types.Signal{Action: types.ActionExit}, 100, t0.Add(time.Hour))
	if len(orders) != 1 {
		t.Fatalf("expected 1 exit order, got %d", len(orders))
	}
	// Flooring to 1.000 would strand 0.0005, below one precision unit, so the
	// whole position is sold instead.
	if math.Abs(orders[0].Quantity-1.0005) > 1e-12 {
		t.Errorf("expected exit of full 1.0005, got %v", orders[0].Quantity)
	}
}

func TestSellAbsorbsUntradableRemainder(t *testing.T) {
	e := fixedEngine(t, 1000)
	fill(e, types.SideBuy, 1.0005, 100, t0)

	r := types.OrderResult{Side: types.SideSell, Status: "FILLED", FilledQty: 1.000, AvgPrice: 110}
	e.ApplyFill(&r, 110, t0.Add(time.Hour))

	st := e.State()
	if st.Position != 0 {
		t.Errorf("expected flat position after dust absorption, got %v", st.Position)
	}
	// Reported fill grows by the absorbed dust.
	if math.Abs(r.FilledQty-1.0005) > 1e-12 {
		t.Errorf("expected reported fill 1.0005, got %v", r.FilledQty)
	}
	wantCash := 1000 - 1.0005*100 + 1.0005*110
	if math.Abs(st.Cash-wantCash) > 1e-9 {
		t.Errorf("expected cash %v, got %v", wantCash, st.Cash)
	}
}

func TestBuyFillFallsBackToTradePrice(t *testing.T) {
	e := fixedEngine(t, 1000)
	r := types.OrderResult{Side: types.SideBuy, Status: "FILLED", FilledQty: 1, AvgPrice: 0}
	e.ApplyFill(&r, 100, t0)

	st := e.State()
	if st.AvgPrice != 100 {
		t.Errorf("expected avg price from fallback 100, got %v", st.AvgPrice)
	}
	if st.Cash != 900 {
		t.Errorf("expected cash 900, got %v", st.Cash)
	}
}

func TestOverrideBalancesResetsFlatState(t *testing.T) {
	e := fixedEngine(t, 1000)
	fill(e, types.SideBuy, 1, 100, t0)

	e.OverrideBalances(0, 1234)
	st := e.State()
	if st.Position != 0 || st.AvgPrice != 0 || st.Levels != 0 || st.BaseUnit != 0 {
		t.Errorf("expected flat ledger after zero override, got %+v", st)
	}
	if st.Cash != 1234 {
		t.Errorf("expected cash 1234, got %v", st.Cash)
	}
}

func TestOverrideBalancesKeepsOpenPosition(t *testing.T) {
	e := fixedEngine(t, 1000)
	fill(e, types.SideBuy, 1, 100, t0)

	e.OverrideBalances(0.8, 950)
	st := e.State()
	if st.Position != 0.8 || st.Cash != 950 {
		t.Errorf("expected overridden balances, got %+v", st)
	}
	if st.AvgPrice != 100 || st.Levels != 1 {
		t.Errorf("expected avg price and levels preserved, got %+v", st)
	}
}

func TestRestoreSnapshotRebuildsBaseUnit(t *testing.T) {
	e := fixedEngine(t, 0)
	e.RestoreSnapshot(types.PortfolioSnapshot{
		Cash:     340,
		Position: 7,
		AvgPrice: 94.2857,
		Levels:   3,
	})

	st := e.State()
	// 7 = 1 + 2 + 4 for a x2 multiplier over 3 levels.
	if math.Abs(st.BaseUnit-1) > 1e-9 {
		t.Errorf("expected base unit 1, got %v", st.BaseUnit)
	}
	if st.Position != 7 || st.Levels != 3 {
		t.Errorf("unexpected restored state: %+v", st)
	}
}
