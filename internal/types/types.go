package types

import "time"

// SignalAction is the per-bar instruction emitted by a strategy.
type SignalAction string

const (
	ActionEnter SignalAction = "ENTER"
	ActionAdd   SignalAction = "ADD"
	ActionExit  SignalAction = "EXIT"
	ActionHold  SignalAction = "HOLD"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Bar is one OHLCV candle for a trading interval. Tick streams synthesize
// degenerate bars where open==high==low==close and volume is zero.
type Bar struct {
	Symbol string    `json:"symbol"`
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Signal is produced once per bar by the strategy.
type Signal struct {
	Action SignalAction      `json:"action"`
	Size   float64           `json:"size,omitempty"`
	Price  float64           `json:"price,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// OrderRequest is what the portfolio engine asks the venue to execute.
// QuantityText, when set, is the exchange-legal decimal rendering of Quantity
// produced by the quantity normalizer; venues should prefer it over
// re-formatting the float themselves.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Quantity     float64
	QuantityText string
	OrderType    string // defaults to "MARKET"
}

// OrderResult is the normalized view of an executed order.
type OrderResult struct {
	OrderID   string         `json:"order_id"`
	Side      Side           `json:"side"`
	Status    string         `json:"status"`
	FilledQty float64        `json:"filled_qty"`
	AvgPrice  float64        `json:"avg_price"` // 0 means unknown, fall back to trade price
	Ts        time.Time      `json:"ts"`
	Raw       map[string]any `json:"raw,omitempty"` // opaque venue payload kept for audit
}

// AccountSnapshot captures the venue's free balances for one symbol's
// base/quote pair. It is treated as ground truth during reconciliation.
type AccountSnapshot struct {
	BaseFree  float64   `json:"base_free"`
	QuoteFree float64   `json:"quote_free"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PortfolioSnapshot is the telemetry view exposed by the portfolio engine.
type PortfolioSnapshot struct {
	Cash     float64 `json:"cash"`
	Position float64 `json:"position"`
	AvgPrice float64 `json:"avg_price"`
	Equity   float64 `json:"equity"`
	Levels   int     `json:"levels"`
}

// PersistedState is the durable projection written after every successful
// reconciliation and read once at startup to resume without replaying history.
type PersistedState struct {
	Symbol      string            `json:"symbol"`
	Portfolio   PortfolioSnapshot `json:"portfolio"`
	Balances    AccountSnapshot   `json:"balances"`
	MarketPrice float64           `json:"market_price"`
}
