package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradewinds/internal/config"
	"tradewinds/internal/db"
	"tradewinds/internal/economy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	econSvc := economy.NewService(pool, logger)

	if os.Getenv("TRADEWINDS_WORKER_RUN_ONCE") == "true" {
		runSweep(ctx, logger, econSvc)
		runTick(ctx, logger, econSvc, cfg.MarketVolatility)
		return
	}

	logger.Info("tradewinds worker started",
		"tick_every", cfg.PriceTickEvery.String(),
		"sweep_every", cfg.MissionSweepEvery.String(),
		"ranking_every", cfg.RankingRefreshEvery.String())

	tick := time.NewTicker(cfg.PriceTickEvery)
	sweep := time.NewTicker(cfg.MissionSweepEvery)
	ranks := time.NewTicker(cfg.RankingRefreshEvery)
	defer tick.Stop()
	defer sweep.Stop()
	defer ranks.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("tradewinds worker stopping")
			return
		case <-tick.C:
			runTick(ctx, logger, econSvc, cfg.MarketVolatility)
		case <-sweep.C:
			runSweep(ctx, logger, econSvc)
		case <-ranks.C:
			if err := econSvc.RefreshActiveRankings(ctx); err != nil {
				logger.Error("ranking refresh failed", "err", err)
			}
		}
	}
}

func runTick(ctx context.Context, logger *slog.Logger, econSvc *economy.Service, volatility string) {
	if err := econSvc.RunPriceTick(ctx, volatility); err != nil {
		logger.Error("price tick failed", "err", err)
	}
}

func runSweep(ctx context.Context, logger *slog.Logger, econSvc *economy.Service) {
	if activated, err := econSvc.ActivateDueMissions(ctx); err != nil {
		logger.Error("mission activation failed", "err", err)
	} else if activated > 0 {
		logger.Info("missions activated", "count", activated)
	}
	if err := econSvc.SettleDueMissions(ctx); err != nil {
		logger.Error("mission settle sweep failed", "err", err)
	}
}
