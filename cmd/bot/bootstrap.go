package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/engine"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/live"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/notify"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/portfolio"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/reconciler"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/statestore"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/store"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/strategy"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/venue/binance"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/venue/paper"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/venue/venueobs"
)

type runtimeSet struct {
	orchestrators []*live.Orchestrator
}

// bootstrap wires one orchestrator per configured symbol: venue, strategy,
// portfolio, engine, reconciler, streams. A permission failure on the live
// venue aborts startup before any stream opens.
func bootstrap(ctx context.Context, cfg *store.Config) (*runtimeSet, error) {
	// Market data always comes from the real exchange, even in DRY_RUN;
	// only execution is simulated.
	client := binance.New(binance.Params{
		APIKey:     os.Getenv("BINANCE_API_KEY"),
		APISecret:  os.Getenv("BINANCE_API_SECRET"),
		Testnet:    cfg.Exchange.Testnet,
		RecvWindow: cfg.Exchange.RecvWindow,
	})

	var paperVenue *paper.Venue
	var venue interfaces.ExecutionVenue
	if cfg.Mode == "LIVE" {
		venue = venueobs.Wrap(client)
		if err := venue.VerifyPermissions(ctx); err != nil {
			return nil, fmt.Errorf("verify venue permissions: %w", err)
		}
	} else {
		paperVenue = paper.New()
		venue = venueobs.Wrap(paperVenue)
	}

	stateStore, err := buildStateStore(cfg)
	if err != nil {
		return nil, err
	}
	notifier := buildNotifier(ctx, cfg)

	cash := cfg.CashFor(len(cfg.Exchange.Symbols))
	rt := &runtimeSet{}
	for _, symbol := range cfg.Exchange.Symbols {
		orch, err := buildSymbol(ctx, cfg, symbol, cash, client, venue, paperVenue, stateStore, notifier)
		if err != nil {
			return nil, fmt.Errorf("bootstrap %s: %w", symbol, err)
		}
		rt.orchestrators = append(rt.orchestrators, orch)
	}
	return rt, nil
}

func buildSymbol(
	ctx context.Context,
	cfg *store.Config,
	symbol string,
	cash float64,
	client *binance.Client,
	venue interfaces.ExecutionVenue,
	paperVenue *paper.Venue,
	stateStore interfaces.StateStore,
	notifier interfaces.Notifier,
) (*live.Orchestrator, error) {
	// Exchange constraints come from the public endpoint regardless of mode.
	flt, err := client.SymbolFilters(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch filters: %w", err)
	}
	baseAsset, quoteAsset, err := client.SymbolAssets(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve assets: %w", err)
	}
	if paperVenue != nil {
		paperVenue.Register(symbol, baseAsset, quoteAsset, flt, cash)
	}

	strat := strategy.NewMartingale(symbol, strategy.Params{
		EntryLogic:        cfg.Strategy.EntryLogic,
		TakeProfitPercent: cfg.Strategy.TakeProfitPercent,
		MartingaleTrigger: cfg.Strategy.MartingaleTrigger,
		MaxLevels:         cfg.Strategy.MaxLevels,
	})

	pf := portfolio.New(symbol, cash, portfolio.Params{
		FixedPosition:     cfg.Strategy.FixedPosition,
		StartPositionSize: cfg.Strategy.StartPositionSize,
		BasePositionPct:   cfg.Strategy.BasePositionPct,
		MartingaleMult:    cfg.Strategy.MartingaleMult,
		MaxLevels:         cfg.Strategy.MaxLevels,
		QuantityPrecision: *cfg.Strategy.QuantityPrecision,
	}, portfolio.Risk{
		CooldownMinutes: cfg.Risk.CooldownMinutes,
		MaxNotional:     cfg.Risk.MaxNotional,
	}, flt)

	eng := engine.New(strat, pf, venue, notifier)

	var rec *reconciler.Reconciler
	if stateStore != nil {
		keyTemplate := cfg.CloudStorage.StateKeyTemplate
		if keyTemplate == "" {
			keyTemplate = "state/%s.json"
		}
		stateKey := fmt.Sprintf(keyTemplate, symbol)
		rec = reconciler.New(
			venue, pf, stateStore, stateKey,
			symbol, baseAsset, quoteAsset,
			cfg.AccountSync.Tolerance,
			time.Duration(cfg.AccountSync.IntervalSeconds)*time.Second,
		)
		if state, ok, err := reconciler.LoadPersisted(ctx, stateStore, stateKey); err != nil {
			logger.ErrorWithErr(ctx, "State restore failed, starting fresh", err, "symbol", symbol)
		} else if ok {
			rec.Bootstrap(ctx, state)
		}
	}

	orchCfg := live.Config{
		Symbol:      symbol,
		Interval:    cfg.Exchange.Interval,
		Source:      client,
		Engine:      eng,
		BaseBackoff: time.Duration(cfg.Exchange.ReconnectInterval) * time.Second,
		EnableTicks: cfg.Exchange.EnableTickerFeed,
		HasPosition: pf.HasPosition,
	}
	if rec != nil {
		orchCfg.Reconciler = rec
	}
	orchCfg.PriceHook = func(price float64) {
		if rec != nil {
			rec.UpdateMarketPrice(price)
		}
		if paperVenue != nil {
			paperVenue.SetPrice(symbol, price)
		}
	}

	return live.New(orchCfg), nil
}

func buildStateStore(cfg *store.Config) (interfaces.StateStore, error) {
	if cfg.CloudStorage.Endpoint == "" {
		return nil, nil
	}
	s, err := statestore.NewMinioStore(statestore.Options{
		Endpoint:  cfg.CloudStorage.Endpoint,
		AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		Bucket:    cfg.CloudStorage.Bucket,
		Region:    cfg.CloudStorage.Region,
		UseSSL:    cfg.CloudStorage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}
	return s, nil
}

func buildNotifier(ctx context.Context, cfg *store.Config) interfaces.Notifier {
	sinks := notify.Multi{notify.LogNotifier{}}
	if cfg.Notifications.Telegram.Enabled {
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		if token == "" {
			logger.Warn(ctx, "Telegram enabled but TELEGRAM_BOT_TOKEN is not set, skipping")
		} else {
			sinks = append(sinks, notify.NewTelegram(token, cfg.Notifications.Telegram.ChatID))
		}
	}
	return sinks
}
