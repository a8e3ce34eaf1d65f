// Package portfolio owns position and cash state for one traded symbol and
// turns strategy signals into order requests. It is the single writer of its
// state; the reconciler's drift correction goes through OverrideBalances,
// which shares the same lock as fill application.
package portfolio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// dustEpsilon treats near-zero positions as exactly zero so that many small
// adds and one full exit cannot strand a residual from float rounding.
const dustEpsilon = 1e-10

// Params configures sizing.
type Params struct {
	FixedPosition     bool    // use StartPositionSize instead of equity fraction
	StartPositionSize float64 // base-asset quantity for fixed entries
	BasePositionPct   float64 // fraction of equity committed on ENTER
	MartingaleMult    float64 // geometric multiplier for ADD levels
	MaxLevels         int     // maximum filled entry levels per position
	QuantityPrecision int     // decimal places; derives the dust threshold
}

// Risk configures the engine's hard limits.
type Risk struct {
	CooldownMinutes int     // minimum wait after an exit before re-entering
	MaxNotional     float64 // cap on projected position value, 0 disables
}

// State is the portfolio ledger for one symbol.
//
// Invariant: Position == 0 ⇔ AvgPrice == 0 ⇔ BaseUnit == 0 ⇔ Levels == 0.
type State struct {
	Cash          float64
	Position      float64
	AvgPrice      float64
	BaseUnit      float64 // quantity of the first filled entry since last flat
	Levels        int
	LastEntryTime time.Time
	LastExitTime  time.Time
}

// Equity values the portfolio at the given price.
func (s State) Equity(price float64) float64 {
	return s.Cash + s.Position*price
}

// Engine owns the state for one symbol.
type Engine struct {
	symbol string
	params Params
	risk   Risk
	flt    filters.SymbolFilters
	minQty float64 // dust threshold: one minimum-quantity unit

	mu    sync.Mutex
	state State
}

func New(symbol string, initialCash float64, params Params, risk Risk, flt filters.SymbolFilters) *Engine {
	minQty := 0.0
	if params.QuantityPrecision >= 0 {
		minQty = math.Pow(10, -float64(params.QuantityPrecision))
	}
	return &Engine{
		symbol: symbol,
		params: params,
		risk:   risk,
		flt:    flt,
		minQty: minQty,
		state:  State{Cash: initialCash},
	}
}

// Symbol returns the traded symbol.
func (e *Engine) Symbol() string { return e.symbol }

// State returns a copy of the current ledger.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HasPosition reports whether a position is currently open.
func (e *Engine) HasPosition() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Position > 0
}

// Snapshot exposes the telemetry view used for notification and persistence.
func (e *Engine) Snapshot(price float64) types.PortfolioSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.PortfolioSnapshot{
		Cash:     e.state.Cash,
		Position: e.state.Position,
		AvgPrice: e.state.AvgPrice,
		Equity:   e.state.Equity(price),
		Levels:   e.state.Levels,
	}
}

// OverrideBalances replaces position and cash with the venue's authoritative
// values. Reconciliation is the only caller; everything else mutates state
// through ApplyFill.
func (e *Engine) OverrideBalances(position, cash float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Position = position
	e.state.Cash = cash
	if e.state.Position <= dustEpsilon {
		e.state.Position = 0
		e.state.AvgPrice = 0
		e.state.BaseUnit = 0
		e.state.Levels = 0
	}
}

// RestoreSnapshot seeds the ledger from a persisted snapshot at startup.
func (e *Engine) RestoreSnapshot(snap types.PortfolioSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Cash = snap.Cash
	e.state.Position = snap.Position
	e.state.AvgPrice = snap.AvgPrice
	e.state.Levels = snap.Levels
	if e.state.Position > 0 && e.state.Levels == 0 {
		e.state.Levels = 1
	}
	if e.state.Position > 0 && e.state.BaseUnit == 0 {
		// Best guess after restart: assume level sizes were geometric.
		e.state.BaseUnit = e.state.Position
		if e.state.Levels > 1 && e.params.MartingaleMult > 0 {
			sum := 0.0
			for i := 0; i < e.state.Levels; i++ {
				sum += math.Pow(e.params.MartingaleMult, float64(i))
			}
			e.state.BaseUnit = e.state.Position / sum
		}
	}
	if e.state.Position <= dustEpsilon {
		e.state.Position = 0
		e.state.AvgPrice = 0
		e.state.BaseUnit = 0
		e.state.Levels = 0
	}
}

// Decide turns one strategy signal into zero or more order requests. It never
// mutates cash or position; that happens in ApplyFill once the venue reports
// the fill.
func (e *Engine) Decide(ctx context.Context, signal types.Signal, price float64, ts time.Time) []types.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	var orders []types.OrderRequest

	switch signal.Action {
	case types.ActionEnter:
		if e.state.Position != 0 {
			return orders
		}
		if !e.cooldownElapsed(ts) {
			logger.Debug(ctx, "Entry suppressed by cooldown",
				"symbol", e.symbol,
				"last_exit", e.state.LastExitTime,
				"cooldown_minutes", e.risk.CooldownMinutes,
			)
			return orders
		}
		raw := e.entryQty(price, signal)
		if req, ok := e.buildBuy(ctx, raw, price); ok {
			orders = append(orders, req)
		}

	case types.ActionAdd:
		if e.state.Position <= 0 {
			return orders
		}
		nextLevel := e.state.Levels + 1
		if nextLevel > e.params.MaxLevels {
			logger.Debug(ctx, "Add suppressed by level cap",
				"symbol", e.symbol,
				"next_level", nextLevel,
				"max_levels", e.params.MaxLevels,
			)
			return orders
		}
		raw := e.addQty(nextLevel)
		if req, ok := e.buildBuy(ctx, raw, price); ok {
			orders = append(orders, req)
		}

	case types.ActionExit:
		if e.state.Position <= 0 {
			return orders
		}
		if req, ok := e.buildExit(ctx, price); ok {
			orders = append(orders, req)
		}
	}

	return orders
}

// buildBuy normalizes the raw quantity, applies the fallback-to-raw policy
// and the max-notional cap, and produces a BUY request.
func (e *Engine) buildBuy(ctx context.Context, raw, price float64) (types.OrderRequest, bool) {
	if raw <= 0 {
		return types.OrderRequest{}, false
	}

	qty := raw
	text := ""
	if norm, ok := e.flt.Normalize(raw, price, "MARKET"); ok {
		qty = norm.Float64()
		text = norm.String()
	} else {
		// Deliberate best-effort policy: submit the raw quantity rather than
		// silently dropping the entry. The venue may still reject it.
		logger.Warn(ctx, "Quantity normalization failed, falling back to raw quantity",
			"symbol", e.symbol,
			"event", "QTY_NORMALIZE_FALLBACK",
			"raw_qty", raw,
			"price", price,
		)
	}

	if qty <= 0 {
		return types.OrderRequest{}, false
	}
	if e.exceedsNotional(price, qty) {
		logger.Warn(ctx, "Order blocked by notional cap",
			"symbol", e.symbol,
			"event", "ORDER_BLOCKED_NOTIONAL_CAP",
			"qty", qty,
			"price", price,
			"projected", (e.state.Position+qty)*price,
			"max_notional", e.risk.MaxNotional,
		)
		return types.OrderRequest{}, false
	}

	return types.OrderRequest{
		Symbol:       e.symbol,
		Side:         types.SideBuy,
		Quantity:     qty,
		QuantityText: text,
		OrderType:    "MARKET",
	}, true
}

// buildExit sizes the SELL. When normalization would strand a remainder
// smaller than one minimum-quantity unit, the entire position is sold instead.
func (e *Engine) buildExit(ctx context.Context, price float64) (types.OrderRequest, bool) {
	pos := e.state.Position

	qty := 0.0
	text := ""
	if norm, ok := e.flt.Normalize(pos, price, "MARKET"); ok {
		qty = norm.Float64()
		text = norm.String()
	}

	remainder := pos - qty
	if qty <= 0 || (remainder > 0 && remainder < e.minQty) {
		qty = pos
		text = ""
	}
	if qty <= 0 {
		return types.OrderRequest{}, false
	}

	return types.OrderRequest{
		Symbol:       e.symbol,
		Side:         types.SideSell,
		Quantity:     qty,
		QuantityText: text,
		OrderType:    "MARKET",
	}, true
}

// ApplyFill applies an executed order to the ledger. It is the only mutation
// path for cash and position. The result is taken by pointer so absorbed dust
// can be folded into the reported filled quantity.
func (e *Engine) ApplyFill(result *types.OrderResult, fallbackPrice float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execPrice := result.AvgPrice
	if execPrice <= 0 {
		execPrice = fallbackPrice
	}

	switch result.Side {
	case types.SideBuy:
		e.state.Cash -= execPrice * result.FilledQty
		newPosition := e.state.Position + result.FilledQty
		if newPosition > 0 {
			weightedCost := e.state.AvgPrice*e.state.Position + execPrice*result.FilledQty
			e.state.AvgPrice = weightedCost / newPosition
		}
		e.state.Position = newPosition
		e.state.LastEntryTime = ts
		if e.state.Levels == 0 {
			e.state.BaseUnit = result.FilledQty
			e.state.Levels = 1
		} else {
			e.state.Levels++
		}

	case types.SideSell:
		e.state.Cash += execPrice * result.FilledQty
		e.state.Position = math.Max(e.state.Position-result.FilledQty, 0)
		if e.state.Position <= dustEpsilon {
			e.state.Position = 0
		} else if e.state.Position < e.minQty {
			// Absorb the untradable remainder: value it at the execution
			// price and report it as part of the fill.
			dust := e.state.Position
			e.state.Cash += execPrice * dust
			result.FilledQty += dust
			e.state.Position = 0
		}
		if e.state.Position == 0 {
			e.state.AvgPrice = 0
			e.state.BaseUnit = 0
			e.state.Levels = 0
			e.state.LastExitTime = ts
		}
	}
}

func (e *Engine) cooldownElapsed(ts time.Time) bool {
	if e.risk.CooldownMinutes <= 0 {
		return true
	}
	if e.state.LastExitTime.IsZero() {
		return true
	}
	return ts.Sub(e.state.LastExitTime) >= time.Duration(e.risk.CooldownMinutes)*time.Minute
}

func (e *Engine) entryQty(price float64, signal types.Signal) float64 {
	if signal.Size > 0 {
		return signal.Size
	}
	if e.params.FixedPosition {
		return e.params.StartPositionSize
	}
	if e.params.BasePositionPct <= 0 {
		return 0
	}
	return e.state.Equity(price) * e.params.BasePositionPct / price
}

func (e *Engine) addQty(nextLevel int) float64 {
	if e.state.BaseUnit <= 0 {
		return 0
	}
	exponent := nextLevel - 1
	if exponent < 0 {
		exponent = 0
	}
	return e.state.BaseUnit * math.Pow(e.params.MartingaleMult, float64(exponent))
}

func (e *Engine) exceedsNotional(price, qty float64) bool {
	if e.risk.MaxNotional <= 0 {
		return false
	}
	return (e.state.Position+qty)*price > e.risk.MaxNotional
}
