// Package paper implements an in-memory execution venue for dry runs. Orders
// fill instantly at the last observed market price and balances are tracked
// locally, so the rest of the pipeline runs unchanged without touching a real
// exchange.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

type symbolBook struct {
	baseAsset  string
	quoteAsset string
	filters    filters.SymbolFilters
	lastPrice  float64
	baseFree   float64
	quoteFree  float64
}

// Venue is a simulated exchange. Safe for concurrent use.
type Venue struct {
	mu      sync.Mutex
	symbols map[string]*symbolBook
}

var _ interfaces.ExecutionVenue = (*Venue)(nil)

func New() *Venue {
	return &Venue{symbols: make(map[string]*symbolBook)}
}

// Register declares a tradable symbol with its constraints and starting quote
// balance. Must be called before orders or streams reference the symbol.
func (v *Venue) Register(symbol, baseAsset, quoteAsset string, flt filters.SymbolFilters, quoteFree float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.symbols[strings.ToUpper(symbol)] = &symbolBook{
		baseAsset:  strings.ToUpper(baseAsset),
		quoteAsset: strings.ToUpper(quoteAsset),
		filters:    flt,
		quoteFree:  quoteFree,
	}
}

// SetPrice records the latest market price used to fill orders.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.symbols[strings.ToUpper(symbol)]; ok {
		b.lastPrice = price
	}
}

func (v *Venue) book(symbol string) (*symbolBook, error) {
	b, ok := v.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("paper venue: unknown symbol %s", symbol)
	}
	return b, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, err := v.book(req.Symbol)
	if err != nil {
		return types.OrderResult{}, err
	}
	if b.lastPrice <= 0 {
		return types.OrderResult{}, fmt.Errorf("%w: no market price for %s", interfaces.ErrRejected, req.Symbol)
	}
	if req.Quantity <= 0 {
		return types.OrderResult{}, fmt.Errorf("%w: non-positive quantity", interfaces.ErrRejected)
	}

	price := b.lastPrice
	switch req.Side {
	case types.SideBuy:
		cost := req.Quantity * price
		if cost > b.quoteFree {
			return types.OrderResult{}, fmt.Errorf("%w: insufficient quote balance", interfaces.ErrRejected)
		}
		b.quoteFree -= cost
		b.baseFree += req.Quantity
	case types.SideSell:
		if req.Quantity > b.baseFree {
			return types.OrderResult{}, fmt.Errorf("%w: insufficient base balance", interfaces.ErrRejected)
		}
		b.baseFree -= req.Quantity
		b.quoteFree += req.Quantity * price
	default:
		return types.OrderResult{}, fmt.Errorf("%w: unknown side %q", interfaces.ErrRejected, req.Side)
	}

	return types.OrderResult{
		OrderID:   uuid.NewString(),
		Side:      req.Side,
		Status:    "FILLED",
		FilledQty: req.Quantity,
		AvgPrice:  price,
		Ts:        time.Now().UTC(),
	}, nil
}

func (v *Venue) SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.book(symbol)
	if err != nil {
		return filters.SymbolFilters{}, err
	}
	return b.filters, nil
}

func (v *Venue) SymbolAssets(ctx context.Context, symbol string) (string, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, err := v.book(symbol)
	if err != nil {
		return "", "", err
	}
	return b.baseAsset, b.quoteAsset, nil
}

func (v *Venue) Balances(ctx context.Context, baseAsset, quoteAsset string) (types.AccountSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := types.AccountSnapshot{UpdatedAt: time.Now().UTC()}
	baseAsset = strings.ToUpper(baseAsset)
	quoteAsset = strings.ToUpper(quoteAsset)
	for _, b := range v.symbols {
		if b.baseAsset == baseAsset {
			snap.BaseFree += b.baseFree
		}
		if b.quoteAsset == quoteAsset {
			snap.QuoteFree += b.quoteFree
		}
	}
	return snap, nil
}

func (v *Venue) VerifyPermissions(ctx context.Context) error {
	return nil
}
