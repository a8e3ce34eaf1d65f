package interfaces

import (
	"context"
	"errors"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// ErrPermission marks venue rejections caused by credentials or account
// permissions. These are permanent: the affected symbol must stop trading
// instead of retrying.
var ErrPermission = errors.New("venue permission denied")

// ErrRejected marks venue-side order validation failures. These are transient
// from the orchestrator's point of view and must not crash it.
var ErrRejected = errors.New("order rejected by venue")

// ExecutionVenue is the abstract order-execution surface of an exchange.
type ExecutionVenue interface {
	// SubmitOrder executes the request and returns the normalized result.
	// Errors wrap ErrPermission or ErrRejected when classifiable.
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)

	// SymbolFilters returns the venue's quantity constraints for the symbol.
	// Implementations cache per symbol; the cache is scoped to the venue
	// instance, never package-level.
	SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error)

	// SymbolAssets splits a symbol into its base and quote assets.
	SymbolAssets(ctx context.Context, symbol string) (base, quote string, err error)

	// Balances fetches the free balances for the given asset pair.
	Balances(ctx context.Context, baseAsset, quoteAsset string) (types.AccountSnapshot, error)

	// VerifyPermissions confirms the credentials can trade. A failure aborts
	// startup for the affected symbols.
	VerifyPermissions(ctx context.Context) error
}
