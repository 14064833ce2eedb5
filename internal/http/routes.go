package http

import (
	"time"

	"packmarket/internal/config"
	"packmarket/internal/http/handlers"
	"packmarket/internal/http/middleware"
	"packmarket/internal/ws"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

// Deps is everything the HTTP surface needs. Redis and Hub may be nil.
type Deps struct {
	Handler *handlers.Handler
	Health  *handlers.HealthHandler
	Redis   *redis.Client
	Hub     *ws.Hub
	Config  *config.Config
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config

	// Health checks (no rate limiting)
	r.GET("/health", d.Health.Health)
	r.GET("/healthz", d.Health.Liveness)
	r.GET("/readyz", d.Health.Readiness)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RedisRateLimit(d.Redis, cfg.APIRateLimit, cfg.APIRateWindow))
	registerAPIRoutes(v1, d)

	// Player event stream
	if d.Hub != nil {
		r.GET("/ws", ws.HandleWS(d.Hub, cfg.AllowedOrigin))
	}
}

func registerAPIRoutes(api *gin.RouterGroup, d Deps) {
	h := d.Handler
	cfg := d.Config

	api.POST("/auth", middleware.RedisRateLimit(d.Redis, cfg.AuthRateLimit, time.Minute), h.Auth)

	// Public storefront and season info
	api.GET("/packs", h.ListLivePacks)
	api.GET("/season", h.SeasonInfo)
	api.GET("/season/leaderboard", h.GetLeaderboard)

	auth := api.Group("")
	auth.Use(middleware.JWT())
	{
		auth.GET("/me", h.Me)
		auth.GET("/me/packs", h.MyPacks)
		auth.GET("/me/purchases", h.MyPurchases)
		auth.GET("/me/cards", h.MyCards)
		auth.GET("/me/items", h.MyItems)
		auth.GET("/me/publish-eligibility", h.PublishEligibility)

		// Creator packs
		auth.POST("/packs", h.CreatePack)
		auth.GET("/packs/:id", h.GetPack)
		auth.PATCH("/packs/:id", h.UpdatePackDetails)
		auth.POST("/packs/:id/cards", h.AddCard)
		auth.PUT("/packs/:id/cards/:index", h.UpdateCard)
		auth.DELETE("/packs/:id/cards/:index", h.RemoveCard)
		auth.GET("/packs/:id/preview", h.PreviewPack)
		auth.POST("/packs/:id/publish", h.PublishPack)
		auth.POST("/packs/:id/archive", h.ArchivePack)
		auth.POST("/packs/:id/cancel", h.CancelPack)

		// Purchases (per user, not per IP)
		buyRL := middleware.UserRateLimit(d.Redis, "buy", cfg.BuyRateLimit, time.Minute)
		auth.POST("/packs/:id/buy", buyRL, h.BuyPack)
		auth.GET("/purchases/:id", h.GetPurchase)

		// Season progression
		auth.GET("/season/progress", h.SeasonProgress)
		auth.GET("/season/rank", h.GetMyRank)
		auth.POST("/season/daily", h.ClaimDaily)
		auth.POST("/season/rewards/:id/claim", h.ClaimReward)
	}

	// Battle and trade services report XP events here
	internal := api.Group("/internal")
	internal.Use(middleware.ServiceToken(cfg.ServiceToken))
	{
		internal.POST("/events", h.ReportEvent)
	}
}
