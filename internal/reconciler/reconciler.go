// Package reconciler keeps the in-memory portfolio aligned with the venue's
// balances, treating the venue as ground truth, and maintains the durable
// state document a restarted bot resumes from.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/metrics"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/portfolio"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/trace"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// remoteCallTimeout bounds each balance fetch and each persistence write so a
// hung remote call can never stall the whole orchestrator.
const remoteCallTimeout = 15 * time.Second

type Reconciler struct {
	venue      interfaces.ExecutionVenue
	portfolio  *portfolio.Engine
	store      interfaces.StateStore // nil disables persistence
	stateKey   string
	symbol     string
	baseAsset  string
	quoteAsset string
	tolerance  float64
	interval   time.Duration

	mu           sync.Mutex
	lastSnapshot *types.AccountSnapshot
	lastPrice    float64
}

func New(
	venue interfaces.ExecutionVenue,
	pf *portfolio.Engine,
	store interfaces.StateStore,
	stateKey string,
	symbol, baseAsset, quoteAsset string,
	tolerance float64,
	interval time.Duration,
) *Reconciler {
	if tolerance <= 0 {
		tolerance = 1e-6
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		venue:      venue,
		portfolio:  pf,
		store:      store,
		stateKey:   stateKey,
		symbol:     symbol,
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		tolerance:  tolerance,
		interval:   interval,
	}
}

// Run repeats the sync cycle until ctx is canceled. Cycle failures are logged
// and retried on the next tick; they never terminate the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		if err := r.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorWithErr(ctx, "Account synchronization failed", err, "symbol", r.symbol)
			metrics.ReconcileFailures.WithLabelValues(r.symbol, "fetch").Inc()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sync runs one reconciliation cycle: fetch balances, correct drift, persist.
// A fetch failure aborts the cycle before any local mutation. A persistence
// failure is logged but does not fail the cycle; the corrected in-memory
// state is already consistent.
func (r *Reconciler) Sync(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "reconciler.Sync")
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	snapshot, err := r.venue.Balances(fetchCtx, r.baseAsset, r.quoteAsset)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch balances %s/%s: %w", r.baseAsset, r.quoteAsset, err)
	}

	r.reconcile(ctx, snapshot)

	r.mu.Lock()
	r.lastSnapshot = &snapshot
	price := r.lastPrice
	r.mu.Unlock()

	if r.store != nil {
		if price == 0 {
			price = r.portfolio.State().AvgPrice
		}
		state := types.PersistedState{
			Symbol:      r.symbol,
			Portfolio:   r.portfolio.Snapshot(price),
			Balances:    snapshot,
			MarketPrice: price,
		}
		saveCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
		err := r.store.Save(saveCtx, r.stateKey, state)
		cancel()
		if err != nil {
			logger.ErrorWithErr(ctx, "Unable to persist synchronized state", err,
				"symbol", r.symbol,
				"key", r.stateKey,
			)
			metrics.ReconcileFailures.WithLabelValues(r.symbol, "persist").Inc()
		}
	}

	return nil
}

// reconcile overwrites local position and cash when either drifts beyond
// tolerance. The overwrite is serialized against fills by the portfolio lock.
func (r *Reconciler) reconcile(ctx context.Context, snapshot types.AccountSnapshot) {
	local := r.portfolio.State()
	posDiff := math.Abs(local.Position - snapshot.BaseFree)
	cashDiff := math.Abs(local.Cash - snapshot.QuoteFree)

	if posDiff <= r.tolerance && cashDiff <= r.tolerance {
		return
	}

	logger.Drift(ctx, r.symbol, posDiff, cashDiff,
		"local_position", local.Position,
		"remote_position", snapshot.BaseFree,
		"local_cash", local.Cash,
		"remote_cash", snapshot.QuoteFree,
	)
	metrics.DriftCorrections.WithLabelValues(r.symbol).Inc()
	r.portfolio.OverrideBalances(snapshot.BaseFree, snapshot.QuoteFree)
}

// UpdateMarketPrice records the last observed price so persisted snapshots
// value the position at market rather than at cost.
func (r *Reconciler) UpdateMarketPrice(price float64) {
	r.mu.Lock()
	r.lastPrice = price
	r.mu.Unlock()
}

// LastSnapshot returns the most recent balance snapshot, if any.
func (r *Reconciler) LastSnapshot() (types.AccountSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSnapshot == nil {
		return types.AccountSnapshot{}, false
	}
	return *r.lastSnapshot, true
}

// Bootstrap seeds portfolio state and the last-known snapshot from a
// persisted document, so a restart neither trades blind nor re-enters a
// position the venue already holds. Call once before the first cycle.
func (r *Reconciler) Bootstrap(ctx context.Context, state types.PersistedState) {
	r.portfolio.RestoreSnapshot(state.Portfolio)

	r.mu.Lock()
	if state.Balances.UpdatedAt.IsZero() {
		state.Balances.UpdatedAt = time.Now().UTC()
	}
	snap := state.Balances
	r.lastSnapshot = &snap
	r.lastPrice = state.MarketPrice
	r.mu.Unlock()

	logger.Info(ctx, "Bootstrapped portfolio from persisted state",
		"symbol", r.symbol,
		"position", state.Portfolio.Position,
		"cash", state.Portfolio.Cash,
		"levels", state.Portfolio.Levels,
		"market_price", state.MarketPrice,
	)
}

// LoadPersisted fetches the persisted state document for key, returning
// ok=false when none exists yet.
func LoadPersisted(ctx context.Context, store interfaces.StateStore, key string) (types.PersistedState, bool, error) {
	var state types.PersistedState
	loadCtx, cancel := context.WithTimeout(ctx, remoteCallTimeout)
	defer cancel()
	err := store.Load(loadCtx, key, &state)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.PersistedState{}, false, nil
		}
		return types.PersistedState{}, false, err
	}
	return state, true, nil
}
