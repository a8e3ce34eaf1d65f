package interfaces

import (
	"context"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// Notifier fans trade events and alerts out to operators. Implementations
// must absorb delivery failures; notification is best-effort.
type Notifier interface {
	Trade(ctx context.Context, result types.OrderResult, snapshot types.PortfolioSnapshot)
	Alert(ctx context.Context, message string, fields map[string]string)
}
