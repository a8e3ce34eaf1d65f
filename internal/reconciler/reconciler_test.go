package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/portfolio"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

type balanceVenue struct {
	snapshot types.AccountSnapshot
	err      error
	calls    int
}

func (v *balanceVenue) Balances(context.Context, string, string) (types.AccountSnapshot, error) {
	v.calls++
	if v.err != nil {
		return types.AccountSnapshot{}, v.err
	}
	return v.snapshot, nil
}

func (v *balanceVenue) SubmitOrder(context.Context, types.OrderRequest) (types.OrderResult, error) {
	return types.OrderResult{}, errors.New("not implemented")
}

func (v *balanceVenue) SymbolFilters(context.Context, string) (filters.SymbolFilters, error) {
	return filters.SymbolFilters{}, nil
}

func (v *balanceVenue) SymbolAssets(context.Context, string) (string, string, error) {
	return "BTC", "USDT", nil
}

func (v *balanceVenue) VerifyPermissions(context.Context) error { return nil }

type memoryStore struct {
	docs     map[string]types.PersistedState
	saveErr  error
	loadErr  error
	saveKeys []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]types.PersistedState)}
}

func (s *memoryStore) Save(_ context.Context, key string, doc any) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var state types.PersistedState
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	s.saveKeys = append(s.saveKeys, key)
	s.docs[key] = state
	return nil
}

func (s *memoryStore) Load(_ context.Context, key string, doc any) error {
	if s.loadErr != nil {
		return s.loadErr
	}
	state, ok := s.docs[key]
	if !ok {
		return interfaces.ErrNotFound
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, doc)
}

func testPortfolio(t *testing.T, cash float64) *portfolio.Engine {
	t.Helper()
	flt, err := filters.FiltersFromStrings("0.001", "0.001", "", "")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	return portfolio.New("BTCUSDT", cash, portfolio.Params{
		FixedPosition:     true,
		StartPositionSize: 1,
		MartingaleMult:    2,
		MaxLevels:         3,
		QuantityPrecision: 3,
	}, portfolio.Risk{}, flt)
}

func newTestReconciler(venue interfaces.ExecutionVenue, pf *portfolio.Engine, store interfaces.StateStore) *Reconciler {
	return New(venue, pf, store, "state/BTCUSDT.json", "BTCUSDT", "BTC", "USDT", 1e-6, time.Minute)
}

func TestSyncWithinToleranceDoesNotTouchState(t *testing.T) {
	pf := testPortfolio(t, 1000)
	venue := &balanceVenue{snapshot: types.AccountSnapshot{BaseFree: 0, QuoteFree: 1000 + 1e-9}}
	r := newTestReconciler(venue, pf, nil)

	before := pf.State()
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	after := pf.State()
	if after.Cash != before.Cash || after.Position != before.Position {
		t.Errorf("expected state untouched within tolerance, got %+v", after)
	}
}

func TestSyncOverwritesOnDrift(t *testing.T) {
	pf := testPortfolio(t, 1000)
	// Simulate a local fill the venue never saw.
	r0 := types.OrderResult{Side: types.SideBuy, Status: "FILLED", FilledQty: 1, AvgPrice: 100}
	pf.ApplyFill(&r0, 100, time.Now())

	venue := &balanceVenue{snapshot: types.AccountSnapshot{BaseFree: 0.5, QuoteFree: 950}}
	r := newTestReconciler(venue, pf, nil)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	st := pf.State()
	if st.Position != 0.5 || st.Cash != 950 {
		t.Errorf("expected venue balances adopted, got %+v", st)
	}
	// Cost basis survives a non-zero correction.
	if st.AvgPrice != 100 {
		t.Errorf("expected avg price preserved, got %v", st.AvgPrice)
	}
}

func TestSyncFetchFailureLeavesStateAlone(t *testing.T) {
	pf := testPortfolio(t, 1000)
	venue := &balanceVenue{err: errors.New("network down")}
	store := newMemoryStore()
	r := newTestReconciler(venue, pf, store)

	if err := r.Sync(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if st := pf.State(); st.Cash != 1000 {
		t.Errorf("expected untouched cash, got %v", st.Cash)
	}
	if len(store.saveKeys) != 0 {
		t.Errorf("expected no persistence after failed fetch, got %v", store.saveKeys)
	}
}

func TestSyncPersistsStateDocument(t *testing.T) {
	pf := testPortfolio(t, 1000)
	venue := &balanceVenue{snapshot: types.AccountSnapshot{BaseFree: 0, QuoteFree: 1000}}
	store := newMemoryStore()
	r := newTestReconciler(venue, pf, store)
	r.UpdateMarketPrice(105)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	doc, ok := store.docs["state/BTCUSDT.json"]
	if !ok {
		t.Fatal("expected a persisted state document")
	}
	if doc.Symbol != "BTCUSDT" || doc.MarketPrice != 105 {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.Portfolio.Cash != 1000 {
		t.Errorf("expected cash 1000 in snapshot, got %v", doc.Portfolio.Cash)
	}
}

func TestSyncPersistFailureIsNotFatal(t *testing.T) {
	pf := testPortfolio(t, 1000)
	venue := &balanceVenue{snapshot: types.AccountSnapshot{BaseFree: 0, QuoteFree: 1000}}
	store := newMemoryStore()
	store.saveErr = errors.New("bucket unavailable")
	r := newTestReconciler(venue, pf, store)

	if err := r.Sync(context.Background()); err != nil {
		t.Errorf("persist failure must not fail the cycle: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	pf := testPortfolio(t, 1000)
	venue := &balanceVenue{snapshot: types.AccountSnapshot{QuoteFree: 1000}}
	r := New(venue, pf, nil, "", "BTCUSDT", "BTC", "USDT", 1e-6, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if venue.calls < 2 {
		t.Errorf("expected repeated sync cycles, got %d", venue.calls)
	}
}

func TestBootstrapSeedsPortfolioAndSnapshot(t *testing.T) {
	pf := testPortfolio(t, 0)
	venue := &balanceVenue{}
	r := newTestReconciler(venue, pf, nil)

	r.Bootstrap(context.Background(), types.PersistedState{
		Symbol: "BTCUSDT",
		Portfolio: types.PortfolioSnapshot{
			Cash:     340,
			Position: 7,
			AvgPrice: 94.29,
			Levels:   3,
		},
		Balances:    types.AccountSnapshot{BaseFree: 7, QuoteFree: 340},
		MarketPrice: 95,
	})

	st := pf.State()
	if st.Position != 7 || st.Cash != 340 || st.Levels != 3 {
		t.Errorf("unexpected restored state: %+v", st)
	}
	snap, ok := r.LastSnapshot()
	if !ok || snap.BaseFree != 7 {
		t.Errorf("expected seeded snapshot, got %+v ok=%v", snap, ok)
	}
}

func TestLoadPersistedMissingKey(t *testing.T) {
	store := newMemoryStore()
	_, ok, err := LoadPersisted(context.Background(), store, "state/BTCUSDT.json")
	if err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing document")
	}
}

func TestLoadPersistedPropagatesRealErrors(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("timeout")
	if _, _, err := LoadPersisted(context.Background(), store, "k"); err == nil {
		t.Error("expected error to propagate")
	}
}
