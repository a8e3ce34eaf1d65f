package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/logger"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/metrics"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/store"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/trace"
	"github.com/wanglz111/martingale-multi-spot-bot/internal/tradelog"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(logger.Init())
	must(trace.Init())

	cfgPath := os.Getenv("BOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := store.LoadConfig(cfgPath)
	must(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		_ = tradelog.CompressOlder(n)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Mode == "DRY_RUN" {
		logger.Info(ctx, "Running in DRY_RUN mode: orders fill on a simulated venue")
	}

	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Startup failed", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorWithErr(ctx, "Metrics server stopped", err)
		}
	}()

	for _, o := range rt.orchestrators {
		must(o.Start(ctx))
	}
	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"symbols", cfg.Exchange.Symbols,
		"interval", cfg.Exchange.Interval,
	)

	<-sigc
	logger.Info(ctx, "Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	for _, o := range rt.orchestrators {
		o.Stop(stopCtx)
	}
	_ = metricsSrv.Shutdown(stopCtx)
	_ = trace.Shutdown(stopCtx)
	logger.Info(ctx, "Shutdown complete")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
