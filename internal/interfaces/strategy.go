package interfaces

import (
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// Strategy is the pluggable signal-generation capability. The engine depends
// only on this interface; concrete strategies are interchangeable.
type Strategy interface {
	// OnBar consumes one bar and returns the desired action for it.
	OnBar(bar types.Bar) types.Signal

	// OnFill receives every executed order so the strategy can track its own
	// view of the position.
	OnFill(result types.OrderResult)
}
