// Package strategy holds the signal-generation side of the bot. The engine
// talks to it only through interfaces.Strategy, so variants can be swapped
// without touching the trading pipeline.
package strategy

import (
	"fmt"
	"math"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

const (
	maxHistoryBars = 500
	warmupBars     = 5
	rsiPeriod      = 14
)

// Params tunes the martingale entry/exit rules.
type Params struct {
	EntryLogic        string  // MACD, STOCH_RSI or EMA
	TakeProfitPercent float64 // exit when unrealized gain reaches this percent
	MartingaleTrigger float64 // add when drawdown from avg price exceeds this percent
	MaxLevels         int
}

// positionView is the strategy's own tally of the open position, updated from
// fills. It deliberately mirrors, not reads, the portfolio engine's ledger.
type positionView struct {
	size     float64
	avgPrice float64
	levels   int
}

// Martingale enters on a momentum crossover and averages down geometrically
// as price falls, taking profit from the blended cost basis.
type Martingale struct {
	symbol  string
	params  Params
	history []types.Bar
	pos     positionView
}

var _ interfaces.Strategy = (*Martingale)(nil)

func NewMartingale(symbol string, params Params) *Martingale {
	return &Martingale{
		symbol:  symbol,
		params:  params,
		history: make([]types.Bar, 0, maxHistoryBars),
	}
}

// Reset clears accumulated state between sessions.
func (m *Martingale) Reset() {
	m.history = m.history[:0]
	m.pos = positionView{}
}

// OnBar appends the bar to the rolling history and decides the action.
func (m *Martingale) OnBar(bar types.Bar) types.Signal {
	m.history = append(m.history, bar)
	if len(m.history) > maxHistoryBars {
		m.history = m.history[1:]
	}
	if len(m.history) < warmupBars {
		return types.Signal{Action: types.ActionHold, Info: map[string]string{"reason": "warmup"}}
	}

	price := bar.Close

	if m.pos.size <= 0 {
		if m.entrySignal() {
			return types.Signal{Action: types.ActionEnter, Info: map[string]string{"reason": m.params.EntryLogic}}
		}
		return types.Signal{Action: types.ActionHold}
	}

	if m.shouldTakeProfit(price) {
		return types.Signal{Action: types.ActionExit, Info: map[string]string{"reason": "take_profit"}}
	}
	if m.shouldAdd(price) {
		return types.Signal{
			Action: types.ActionAdd,
			Info:   map[string]string{"reason": "martingale_trigger", "level": fmt.Sprint(m.pos.levels + 1)},
		}
	}
	return types.Signal{Action: types.ActionHold}
}

// OnFill keeps the strategy's position view in sync with executed orders.
func (m *Martingale) OnFill(result types.OrderResult) {
	switch result.Side {
	case types.SideBuy:
		totalCost := m.pos.avgPrice*m.pos.size + result.AvgPrice*result.FilledQty
		newSize := m.pos.size + result.FilledQty
		if newSize > 0 {
			m.pos.avgPrice = totalCost / newSize
		}
		m.pos.size = newSize
		m.pos.levels++
	case types.SideSell:
		m.pos = positionView{}
	}
}

func (m *Martingale) entrySignal() bool {
	closes := make([]float64, len(m.history))
	for i, b := range m.history {
		closes[i] = b.Close
	}

	switch m.params.EntryLogic {
	case "STOCH_RSI":
		stoch, signal := stochRSISeries(closes, rsiPeriod)
		n := len(stoch)
		if n < 2 || math.IsNaN(stoch[n-1]) || math.IsNaN(signal[n-2]) {
			return false
		}
		return stoch[n-1] > 20 && signal[n-2] <= 20
	case "EMA":
		fast := emaSeries(closes, 10)
		slow := emaSeries(closes, 30)
		n := len(fast)
		if n < 2 {
			return false
		}
		return fast[n-1] > slow[n-1] && fast[n-2] <= slow[n-2]
	default: // MACD
		macd, signal := macdSeries(closes)
		n := len(macd)
		if n < 2 {
			return false
		}
		return macd[n-1] > signal[n-1] && macd[n-2] <= signal[n-2]
	}
}

func (m *Martingale) shouldTakeProfit(price float64) bool {
	if m.pos.size <= 0 || m.pos.avgPrice <= 0 {
		return false
	}
	profitPct := (price - m.pos.avgPrice) / m.pos.avgPrice * 100
	return profitPct >= m.params.TakeProfitPercent
}

func (m *Martingale) shouldAdd(price float64) bool {
	if m.pos.size <= 0 || m.pos.avgPrice <= 0 {
		return false
	}
	if m.pos.levels >= m.params.MaxLevels {
		return false
	}
	dropPct := (price - m.pos.avgPrice) / m.pos.avgPrice * 100
	return dropPct <= -m.params.MartingaleTrigger
}
