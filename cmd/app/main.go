package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"packmarket/internal/bot"
	"packmarket/internal/config"
	"packmarket/internal/db"
	"packmarket/internal/enrichment"
	httpServer "packmarket/internal/http"
	"packmarket/internal/http/handlers"
	"packmarket/internal/leaderboard"
	"packmarket/internal/logger"
	"packmarket/internal/repository"
	"packmarket/internal/scheduler"
	"packmarket/internal/service"
	"packmarket/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	service.InitJWT(cfg.JWTSecret)

	dbPool := db.Connect(cfg.DatabaseURL, cfg.Pool())
	defer dbPool.Close()

	rdb := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		defer rdb.Close()
	}

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	packRepo := repository.NewPackRepository(dbPool)
	purchaseRepo := repository.NewPurchaseRepository(dbPool)
	cardRepo := repository.NewCardRepository(dbPool)
	seasonRepo := repository.NewSeasonRepository(dbPool)

	// Money
	balance := service.NewBalanceService(dbPool)
	payments := service.NewGemsPaymentProvider(dbPool, balance)
	audit := service.NewAuditService(dbPool)

	// Metadata enrichment, cached in redis when available
	var enricher service.Enricher = enrichment.NewClient(cfg.EnrichmentBaseURL, cfg.EnrichmentAPIKey, cfg.EnrichmentTimeout)
	if rdb != nil {
		enricher = enrichment.NewCachedProvider(enricher, rdb, cfg.EnrichmentCacheTTL)
	}

	seasons := service.NewSeasonService(seasonRepo, service.NewCatalogGranter(balance, cardRepo), service.SeasonOptions{
		Length:    cfg.SeasonLength,
		TopN:      cfg.LeaderboardTopN,
		BonusTopN: cfg.SeasonBonusTopN,
	})
	if rdb != nil {
		seasons.SetIndex(leaderboard.NewIndex(rdb))
	}
	seasons.SetAuditor(audit)

	packs := service.NewPackService(packRepo, enricher, service.NewLimitLedger(cfg.PublishCooldown), cfg.MaxPackPrice)
	packs.SetAuditor(audit)

	purchases := service.NewPurchaseService(packRepo, purchaseRepo, cardRepo, payments, seasons, balance, service.PurchaseOptions{
		CreatorSharePct: cfg.CreatorRevenueSharePct,
		MaxAttempts:     cfg.ReconcileMaxAttempts,
		CaptureGrace:    cfg.CaptureGrace,
	})
	purchases.SetAuditor(audit)

	if _, err := seasons.EnsureActiveSeason(context.Background()); err != nil {
		logger.Error("failed to ensure active season", "error", err)
	}

	// Notifications: websocket for players, telegram for admins
	hub := ws.NewHub()
	notifiers := service.Notifiers{hub}

	var adminBot *bot.AdminBot
	if cfg.AdminBotEnabled && cfg.BotToken != "" {
		var err error
		adminBot, err = bot.NewAdminBot(cfg.BotToken, bot.Deps{
			Admin:     service.NewAdminService(dbPool, balance, audit),
			Packs:     packs,
			Purchases: purchases,
			Seasons:   seasons,
		}, cfg.AdminTelegramIDs)
		if err != nil {
			logger.Error("failed to start admin bot", "error", err)
		} else {
			notifiers = append(notifiers, adminBot)
			go adminBot.Start()
		}
	}
	packs.SetNotifier(notifiers)
	purchases.SetNotifier(notifiers)
	seasons.SetNotifier(notifiers)

	jobs, err := scheduler.New(seasons, purchases, scheduler.Options{
		RolloverInterval:  cfg.SeasonRolloverInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		ReconcileBatch:    cfg.ReconcileBatchSize,
	})
	if err != nil {
		logger.Fatal("failed to create scheduler", "error", err)
	}
	jobs.Start()

	r := gin.Default()

	// CORS for production (frontend on different domain)
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (cfg.AllowedOrigin == "" || origin == cfg.AllowedOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var redisPing handlers.Pinger
	if rdb != nil {
		redisPing = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	httpServer.RegisterRoutes(r, httpServer.Deps{
		Handler: &handlers.Handler{
			InitData:        service.NewInitDataVerifier(cfg.BotToken, cfg.InitDataMaxAge),
			DevMode:         cfg.DevMode,
			Users:           userRepo,
			Transactions:    balance,
			Packs:           packs,
			Purchases:       purchases,
			Seasons:         seasons,
			Audit:           audit,
			LeaderboardTopN: cfg.LeaderboardTopN,
		},
		Health: handlers.NewHealthHandler(dbPool, redisPing, version),
		Redis:  rdb,
		Hub:    hub,
		Config: cfg,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := jobs.Shutdown(); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
	if adminBot != nil {
		adminBot.Stop()
	}

	logger.Info("server exited")
}
