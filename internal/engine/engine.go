// Package engine runs the per-bar trading pipeline for one symbol:
// strategy signal, order sizing, venue execution, fill application,
// notification fan-out. Processing is strictly sequential per symbol.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/metrics"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/portfolio"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/trace"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/tradelog"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// FillHook is invoked after every successfully applied fill.
type FillHook func(result types.OrderResult, snapshot types.PortfolioSnapshot)

type Engine struct {
	strategy  interfaces.Strategy
	portfolio *portfolio.Engine
	venue     interfaces.ExecutionVenue
	notifier  interfaces.Notifier
	fillHooks []FillHook
}

var _ interfaces.Engine = (*Engine)(nil)

func New(strategy interfaces.Strategy, pf *portfolio.Engine, venue interfaces.ExecutionVenue, notifier interfaces.Notifier) *Engine {
	return &Engine{
		strategy:  strategy,
		portfolio: pf,
		venue:     venue,
		notifier:  notifier,
	}
}

// OnFill registers a callback invoked after every applied fill. Hooks run
// synchronously on the bar-processing goroutine; keep them cheap.
func (e *Engine) OnFill(hook FillHook) {
	e.fillHooks = append(e.fillHooks, hook)
}

// Portfolio exposes the engine's portfolio for reconciliation and telemetry.
func (e *Engine) Portfolio() *portfolio.Engine { return e.portfolio }

// ProcessBar drives one bar through the pipeline. A permission error from the
// venue is returned wrapped so the caller can stop trading the symbol; other
// submission errors surface to the supervising loop for retry.
func (e *Engine) ProcessBar(ctx context.Context, bar types.Bar) error {
	ctx, span := trace.StartSpan(ctx, "engine.ProcessBar")
	defer span.End()

	symbol := e.portfolio.Symbol()

	signal := e.strategy.OnBar(bar)
	metrics.Signals.WithLabelValues(symbol, string(signal.Action)).Inc()

	if signal.Action != types.ActionHold {
		logger.Info(ctx, "Strategy signal",
			"symbol", symbol,
			"action", signal.Action,
			"price", bar.Close,
			"info", signal.Info,
		)
		_ = tradelog.AppendSignal(tradelog.SignalEntry{
			Symbol: symbol,
			Action: string(signal.Action),
			Reason: signal.Info["reason"],
			Price:  bar.Close,
			Info:   signal.Info,
		})
	}

	orders := e.portfolio.Decide(ctx, signal, bar.Close, bar.Ts)
	for _, req := range orders {
		result, err := e.venue.SubmitOrder(ctx, req)
		if err != nil {
			if errors.Is(err, interfaces.ErrPermission) {
				logger.ErrorWithErr(ctx, "Order submission denied, stopping symbol", err,
					"symbol", symbol,
					"side", req.Side,
					"qty", req.Quantity,
				)
				return fmt.Errorf("submit %s %s: %w", req.Side, symbol, err)
			}
			logger.ErrorWithErr(ctx, "Order submission failed", err,
				"symbol", symbol,
				"side", req.Side,
				"qty", req.Quantity,
				"price", bar.Close,
			)
			return fmt.Errorf("submit %s %s: %w", req.Side, symbol, err)
		}

		e.portfolio.ApplyFill(&result, bar.Close, bar.Ts)
		e.strategy.OnFill(result)

		snapshot := e.portfolio.Snapshot(bar.Close)
		metrics.Orders.WithLabelValues(symbol, string(result.Side)).Inc()
		metrics.Equity.WithLabelValues(symbol).Set(snapshot.Equity)
		metrics.Position.WithLabelValues(symbol).Set(snapshot.Position)
		metrics.OpenLevels.WithLabelValues(symbol).Set(float64(snapshot.Levels))

		execPrice := result.AvgPrice
		if execPrice <= 0 {
			execPrice = bar.Close
		}
		logger.Trade(ctx, symbol, string(result.Side), result.FilledQty, execPrice, result.OrderID,
			"status", result.Status,
			"levels", snapshot.Levels,
			"equity", snapshot.Equity,
		)
		_ = tradelog.Append(tradelog.Entry{
			Symbol:  symbol,
			Side:    string(result.Side),
			OrderID: result.OrderID,
			Status:  result.Status,
			Reason:  signal.Info["reason"],
			Qty:     result.FilledQty,
			Price:   execPrice,
			Levels:  snapshot.Levels,
		})

		if e.notifier != nil {
			e.notifier.Trade(ctx, result, snapshot)
		}
		for _, hook := range e.fillHooks {
			hook(result, snapshot)
		}
	}

	return nil
}
