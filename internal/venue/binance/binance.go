// Package binance implements the execution-venue and market-data interfaces
// against Binance spot. REST calls are HMAC-SHA256 signed; market data rides
// the public websocket streams.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/filters"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

const (
	mainnetBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	mainnetWSBase = "wss://stream.binance.com:9443/ws"
	testnetWSBase = "wss://stream.testnet.binance.vision/ws"
)

type Params struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int
}

type symbolInfo struct {
	baseAsset  string
	quoteAsset string
	filters    filters.SymbolFilters
}

// Client talks to Binance spot. The symbol-info cache is scoped to the
// client instance.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	wsBase     string
	recvWindow int
	hc         *http.Client

	mu      sync.Mutex
	symbols map[string]*symbolInfo
}

var _ interfaces.ExecutionVenue = (*Client)(nil)
var _ interfaces.MarketDataSource = (*Client)(nil)

func New(p Params) *Client {
	baseURL := mainnetBaseURL
	wsBase := mainnetWSBase
	if p.Testnet {
		baseURL = testnetBaseURL
		wsBase = testnetWSBase
	}
	if p.RecvWindow <= 0 {
		p.RecvWindow = 5000
	}
	return &Client{
		apiKey:     p.APIKey,
		apiSecret:  p.APISecret,
		baseURL:    baseURL,
		wsBase:     wsBase,
		recvWindow: p.RecvWindow,
		hc:         &http.Client{Timeout: 15 * time.Second},
		symbols:    make(map[string]*symbolInfo),
	}
}

func (c *Client) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify maps Binance error payloads onto the error taxonomy: credential
// and permission codes are permanent, order validation codes are rejections,
// anything else stays transient.
func classify(status int, body []byte, op string) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)

	base := fmt.Errorf("binance %s: status=%d code=%d %s", op, status, ae.Code, strings.TrimSpace(ae.Msg))
	switch ae.Code {
	case -2015, -2014, -1002, -4059: // invalid key, bad format, unauthorized
		return fmt.Errorf("%w: %v", interfaces.ErrPermission, base)
	case -1013, -2010, -1111: // filter failure, insufficient balance, bad precision
		return fmt.Errorf("%w: %v", interfaces.ErrRejected, base)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", interfaces.ErrPermission, base)
	}
	return base
}

func (c *Client) get(ctx context.Context, path string, q url.Values, signed bool) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		q.Set("recvWindow", strconv.Itoa(c.recvWindow))
		q.Set("signature", c.sign(q))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		return nil, classify(res.StatusCode, bs, "GET "+path)
	}
	return bs, nil
}

func (c *Client) post(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.Itoa(c.recvWindow))
	q.Set("signature", c.sign(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(q.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		return nil, classify(res.StatusCode, bs, "POST "+path)
	}
	return bs, nil
}

// ensureSymbol fetches and caches exchangeInfo for the symbol.
func (c *Client) ensureSymbol(ctx context.Context, symbol string) (*symbolInfo, error) {
	symbol = strings.ToUpper(symbol)

	c.mu.Lock()
	if info, ok := c.symbols[symbol]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("symbol", symbol)
	bs, err := c.get(ctx, "/api/v3/exchangeInfo", q, false)
	if err != nil {
		return nil, err
	}
	var ex struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType       string `json:"filterType"`
				StepSize         string `json:"stepSize"`
				MinQty           string `json:"minQty"`
				MaxQty           string `json:"maxQty"`
				MinNotional      string `json:"minNotional"`
				ApplyToMarket    bool   `json:"applyToMarket"`
				ApplyMinToMarket bool   `json:"applyMinToMarket"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(bs, &ex); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	if len(ex.Symbols) == 0 {
		return nil, fmt.Errorf("exchangeInfo: symbol %s not found", symbol)
	}
	e := ex.Symbols[0]
	if e.Status != "" && e.Status != "TRADING" {
		return nil, fmt.Errorf("symbol %s not tradable: status=%s", symbol, e.Status)
	}

	var step, minQty, maxQty, minNotional string
	marketExempt := false
	for _, f := range e.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			step, minQty, maxQty = f.StepSize, f.MinQty, f.MaxQty
		case "MIN_NOTIONAL":
			minNotional = f.MinNotional
			marketExempt = !f.ApplyToMarket
		case "NOTIONAL":
			minNotional = f.MinNotional
			marketExempt = !f.ApplyMinToMarket
		}
	}
	flt, err := filters.FiltersFromStrings(step, minQty, maxQty, minNotional)
	if err != nil {
		return nil, fmt.Errorf("parse filters for %s: %w", symbol, err)
	}
	flt.MarketNotionalExempt = marketExempt

	info := &symbolInfo{
		baseAsset:  e.BaseAsset,
		quoteAsset: e.QuoteAsset,
		filters:    flt,
	}
	c.mu.Lock()
	c.symbols[symbol] = info
	c.mu.Unlock()
	return info, nil
}

// SymbolFilters returns cached quantity constraints for the symbol.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error) {
	info, err := c.ensureSymbol(ctx, symbol)
	if err != nil {
		return filters.SymbolFilters{}, err
	}
	return info.filters, nil
}

// SymbolAssets splits the symbol into base and quote assets.
func (c *Client) SymbolAssets(ctx context.Context, symbol string) (string, string, error) {
	info, err := c.ensureSymbol(ctx, symbol)
	if err != nil {
		return "", "", err
	}
	return info.baseAsset, info.quoteAsset, nil
}

// SubmitOrder places a market order and normalizes the response, averaging
// fill prices when the venue reports partial fills.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	orderType := req.OrderType
	if orderType == "" {
		orderType = "MARKET"
	}
	qtyText := req.QuantityText
	if qtyText == "" {
		qtyText = formatQuantity(req.Quantity)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("side", string(req.Side))
	q.Set("type", orderType)
	q.Set("quantity", qtyText)
	q.Set("newOrderRespType", "FULL")

	bs, err := c.post(ctx, "/api/v3/order", q)
	if err != nil {
		return types.OrderResult{}, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		Fills       []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(bs, &resp); err != nil {
		return types.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	if filled == 0 {
		filled = req.Quantity
	}

	avgPrice := 0.0
	var totalQty, totalCost float64
	for _, f := range resp.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		fq, _ := strconv.ParseFloat(f.Qty, 64)
		totalQty += fq
		totalCost += p * fq
	}
	if totalQty > 0 {
		avgPrice = totalCost / totalQty
	}

	var raw map[string]any
	_ = json.Unmarshal(bs, &raw)

	return types.OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Side:      req.Side,
		Status:    resp.Status,
		FilledQty: filled,
		AvgPrice:  avgPrice,
		Ts:        time.Now().UTC(),
		Raw:       raw,
	}, nil
}

// Balances fetches free balances for the asset pair from the account
// endpoint.
func (c *Client) Balances(ctx context.Context, baseAsset, quoteAsset string) (types.AccountSnapshot, error) {
	bs, err := c.get(ctx, "/api/v3/account", nil, true)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	var acct struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(bs, &acct); err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("decode account: %w", err)
	}

	snap := types.AccountSnapshot{UpdatedAt: time.Now().UTC()}
	baseAsset = strings.ToUpper(baseAsset)
	quoteAsset = strings.ToUpper(quoteAsset)
	for _, b := range acct.Balances {
		switch strings.ToUpper(b.Asset) {
		case baseAsset:
			snap.BaseFree, _ = strconv.ParseFloat(b.Free, 64)
		case quoteAsset:
			snap.QuoteFree, _ = strconv.ParseFloat(b.Free, 64)
		}
	}
	return snap, nil
}

// VerifyPermissions confirms the credentials can trade spot.
func (c *Client) VerifyPermissions(ctx context.Context) error {
	bs, err := c.get(ctx, "/api/v3/account", nil, true)
	if err != nil {
		return err
	}
	var acct struct {
		CanTrade bool `json:"canTrade"`
	}
	if err := json.Unmarshal(bs, &acct); err != nil {
		return fmt.Errorf("decode account: %w", err)
	}
	if !acct.CanTrade {
		return fmt.Errorf("%w: account cannot trade spot", interfaces.ErrPermission)
	}
	return nil
}

// formatQuantity renders a float quantity the way Binance accepts it when no
// normalized decimal text is available.
func formatQuantity(q float64) string {
	s := strconv.FormatFloat(q, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		return "0"
	}
	return s
}
