package interfaces

import (
	"context"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// Engine runs the per-bar trading pipeline: signal, sizing, execution, fill
// application. ProcessBar is synchronous; callers must not invoke it
// concurrently for the same symbol.
type Engine interface {
	ProcessBar(ctx context.Context, bar types.Bar) error
}
