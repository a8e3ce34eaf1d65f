package interfaces

import (
	"context"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// MarketDataSource provides restartable live streams. Stream methods block
// until the stream fails or ctx is canceled, invoking deliver synchronously
// for each item; a deliver error terminates the stream with that error.
// The orchestrator owns reconnection, so implementations should not retry
// internally.
type MarketDataSource interface {
	StreamBars(ctx context.Context, symbol, interval string, deliver func(types.Bar) error) error
	StreamTicks(ctx context.Context, symbol string, deliver func(price float64) error) error
}
