package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/types"
)

const wsReadTimeout = 3 * time.Minute

// StreamBars subscribes to the kline stream and delivers closed candles,
// blocking until the stream fails or ctx is cancelled.
func (c *Client) StreamBars(ctx context.Context, symbol, interval string, deliver func(types.Bar) error) error {
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	return c.readStream(ctx, stream, func(msg []byte) error {
		var ev struct {
			EventType string `json:"e"`
			Kline     struct {
				CloseTime int64  `json:"T"`
				Open      string `json:"o"`
				High      string `json:"h"`
				Low       string `json:"l"`
				Close     string `json:"c"`
				Volume    string `json:"v"`
				Closed    bool   `json:"x"`
			} `json:"k"`
		}
		if err := decodeWS(msg, &ev); err != nil {
			return err
		}
		if ev.EventType != "kline" || !ev.Kline.Closed {
			return nil
		}
		bar := types.Bar{
			Symbol: strings.ToUpper(symbol),
			Ts:     time.UnixMilli(ev.Kline.CloseTime).UTC(),
			Open:   parseF(ev.Kline.Open),
			High:   parseF(ev.Kline.High),
			Low:    parseF(ev.Kline.Low),
			Close:  parseF(ev.Kline.Close),
			Volume: parseF(ev.Kline.Volume),
		}
		return deliver(bar)
	})
}

// StreamTicks subscribes to the miniTicker stream and delivers every last
// price update.
func (c *Client) StreamTicks(ctx context.Context, symbol string, deliver func(price float64) error) error {
	stream := fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol))
	return c.readStream(ctx, stream, func(msg []byte) error {
		var ev struct {
			EventType string `json:"e"`
			Close     string `json:"c"`
		}
		if err := decodeWS(msg, &ev); err != nil {
			return err
		}
		if ev.EventType != "24hrMiniTicker" {
			return nil
		}
		return deliver(parseF(ev.Close))
	})
}

// readStream owns one websocket connection. The caller's ctx cancels the
// blocking read by closing the connection from a watcher goroutine.
func (c *Client) readStream(ctx context.Context, stream string, handle func([]byte) error) error {
	u := c.wsBase + "/" + stream
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", stream, err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	conn.SetPingHandler(func(payload string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(10*time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", stream, err)
		}
		if err := handle(msg); err != nil {
			return err
		}
	}
}

func decodeWS(msg []byte, v any) error {
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("decode stream message: %w", err)
	}
	return nil
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
