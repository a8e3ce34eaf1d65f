// Package notify fans trade events and operational alerts out to operators.
// Delivery is best-effort: a failed notification is logged and dropped, never
// surfaced to the trading path.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

// LogNotifier writes notifications to the structured log. Always enabled so
// every trade and alert has at least one sink.
type LogNotifier struct{}

var _ interfaces.Notifier = (*LogNotifier)(nil)

func (LogNotifier) Trade(ctx context.Context, result types.OrderResult, snapshot types.PortfolioSnapshot) {
	logger.Info(ctx, "Trade notification",
		"order_id", result.OrderID,
		"side", result.Side,
		"qty", result.FilledQty,
		"price", result.AvgPrice,
		"equity", snapshot.Equity,
		"levels", snapshot.Levels,
	)
}

func (LogNotifier) Alert(ctx context.Context, message string, fields map[string]string) {
	args := make([]any, 0, len(fields)*2)
	for _, k := range sortedKeys(fields) {
		args = append(args, k, fields[k])
	}
	logger.Warn(ctx, "Alert: "+message, args...)
}

// TelegramNotifier posts messages to a Telegram chat via the bot API.
type TelegramNotifier struct {
	token  string
	chatID string
	hc     *http.Client
}

var _ interfaces.Notifier = (*TelegramNotifier)(nil)

func NewTelegram(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		hc:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Trade(ctx context.Context, result types.OrderResult, snapshot types.PortfolioSnapshot) {
	emoji := "🟢"
	if result.Side == types.SideSell {
		emoji = "🔴"
	}
	msg := fmt.Sprintf(
		"%s *%s* %.8g @ %.8g\nOrder `%s` %s\nEquity: %.2f  Position: %.8g  Levels: %d",
		emoji, result.Side, result.FilledQty, result.AvgPrice,
		result.OrderID, result.Status,
		snapshot.Equity, snapshot.Position, snapshot.Levels,
	)
	t.send(ctx, msg)
}

func (t *TelegramNotifier) Alert(ctx context.Context, message string, fields map[string]string) {
	var b strings.Builder
	b.WriteString("⚠️ *")
	b.WriteString(message)
	b.WriteString("*")
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, "\n%s: `%s`", k, fields[k])
	}
	t.send(ctx, b.String())
}

func (t *TelegramNotifier) send(ctx context.Context, text string) {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build telegram request", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := t.hc.Do(req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Telegram delivery failed", err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		logger.Warn(ctx, "Telegram delivery rejected", "status", res.StatusCode)
	}
}

// Multi fans notifications out to every underlying notifier.
type Multi []interfaces.Notifier

var _ interfaces.Notifier = (Multi)(nil)

func (m Multi) Trade(ctx context.Context, result types.OrderResult, snapshot types.PortfolioSnapshot) {
	for _, n := range m {
		n.Trade(ctx, result, snapshot)
	}
}

func (m Multi) Alert(ctx context.Context, message string, fields map[string]string) {
	for _, n := range m {
		n.Alert(ctx, message, fields)
	}
}

func sortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
