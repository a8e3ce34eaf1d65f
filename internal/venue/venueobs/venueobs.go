package venueobs

import (
	"context"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/trace"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// observableVenue wraps an ExecutionVenue with logging and tracing.
type observableVenue struct {
	venue interfaces.ExecutionVenue
}

// Compile-time interface check
var _ interfaces.ExecutionVenue = (*observableVenue)(nil)

// Wrap wraps a venue with observability middleware
func Wrap(venue interfaces.ExecutionVenue) interfaces.ExecutionVenue {
	return &observableVenue{venue: venue}
}

func (ov *observableVenue) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "venue.SubmitOrder")
	defer span.End()

	logger.Info(ctx, "Submitting order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"qty_text", req.QuantityText,
	)

	result, err := ov.venue.SubmitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Order submission failed", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Quantity,
		)
		return types.OrderResult{}, err
	}

	logger.Info(ctx, "Order submitted",
		"symbol", req.Symbol,
		"order_id", result.OrderID,
		"status", result.Status,
		"filled_qty", result.FilledQty,
		"avg_price", result.AvgPrice,
	)
	return result, nil
}

func (ov *observableVenue) SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error) {
	ctx, span := trace.StartSpan(ctx, "venue.SymbolFilters")
	defer span.End()

	flt, err := ov.venue.SymbolFilters(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch symbol filters", err, "symbol", symbol)
		return filters.SymbolFilters{}, err
	}

	logger.Debug(ctx, "Symbol filters fetched",
		"symbol", symbol,
		"step", flt.Step.String(),
		"min_qty", flt.MinQty.String(),
		"min_notional", flt.MinNotional.String(),
	)
	return flt, nil
}

func (ov *observableVenue) SymbolAssets(ctx context.Context, symbol string) (string, string, error) {
	ctx, span := trace.StartSpan(ctx, "venue.SymbolAssets")
	defer span.End()

	base, quote, err := ov.venue.SymbolAssets(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to resolve symbol assets", err, "symbol", symbol)
		return "", "", err
	}
	logger.Debug(ctx, "Symbol assets resolved", "symbol", symbol, "base", base, "quote", quote)
	return base, quote, nil
}

func (ov *observableVenue) Balances(ctx context.Context, baseAsset, quoteAsset string) (types.AccountSnapshot, error) {
	ctx, span := trace.StartSpan(ctx, "venue.Balances")
	defer span.End()

	snap, err := ov.venue.Balances(ctx, baseAsset, quoteAsset)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch balances", err, "base", baseAsset, "quote", quoteAsset)
		return types.AccountSnapshot{}, err
	}

	logger.Debug(ctx, "Balances fetched",
		"base", baseAsset,
		"base_free", snap.BaseFree,
		"quote", quoteAsset,
		"quote_free", snap.QuoteFree,
	)
	return snap, nil
}

func (ov *observableVenue) VerifyPermissions(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "venue.VerifyPermissions")
	defer span.End()

	logger.Info(ctx, "Verifying venue permissions")
	if err := ov.venue.VerifyPermissions(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Permission verification failed", err)
		return err
	}
	logger.Info(ctx, "Venue permissions verified")
	return nil
}
