package paper

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

func newVenue(t *testing.T) *Venue {
	t.Helper()
	flt, err := filters.FiltersFromStrings("0.001", "0.001", "", "")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	v := New()
	v.Register("BTCUSDT", "BTC", "USDT", flt, 1000)
	return v
}

func TestBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newVenue(t)
	v.SetPrice("BTCUSDT", 100)

	res, err := v.SubmitOrder(ctx, types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 2})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Status != "FILLED" || res.FilledQty != 2 || res.AvgPrice != 100 {
		t.Errorf("unexpected buy result: %+v", res)
	}
	if res.OrderID == "" {
		t.Error("expected a generated order id")
	}

	snap, err := v.Balances(ctx, "BTC", "USDT")
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if snap.BaseFree != 2 || snap.QuoteFree != 800 {
		t.Errorf("unexpected balances after buy: %+v", snap)
	}

	v.SetPrice("BTCUSDT", 110)
	if _, err := v.SubmitOrder(ctx, types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 2}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	snap, _ = v.Balances(ctx, "BTC", "USDT")
	if snap.BaseFree != 0 || math.Abs(snap.QuoteFree-1020) > 1e-9 {
		t.Errorf("unexpected balances after sell: %+v", snap)
	}
}

func TestRejectsWithoutPrice(t *testing.T) {
	v := newVenue(t)
	_, err := v.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 1})
	if !errors.Is(err, interfaces.ErrRejected) {
		t.Errorf("expected rejection without a market price, got %v", err)
	}
}

func TestRejectsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	v := newVenue(t)
	v.SetPrice("BTCUSDT", 100)

	if _, err := v.SubmitOrder(ctx, types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 100}); !errors.Is(err, interfaces.ErrRejected) {
		t.Errorf("expected quote balance rejection, got %v", err)
	}
	if _, err := v.SubmitOrder(ctx, types.OrderRequest{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1}); !errors.Is(err, interfaces.ErrRejected) {
		t.Errorf("expected base balance rejection, got %v", err)
	}
}

func TestUnknownSymbol(t *testing.T) {
	v := newVenue(t)
	if _, err := v.SymbolFilters(context.Background(), "ETHUSDT"); err == nil {
		t.Error("expected error for unregistered symbol")
	}
}

func TestSymbolAssets(t *testing.T) {
	v := newVenue(t)
	base, quote, err := v.SymbolAssets(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("SymbolAssets: %v", err)
	}
	if base != "BTC" || quote != "USDT" {
		t.Errorf("expected BTC/USDT, got %s/%s", base, quote)
	}
}
