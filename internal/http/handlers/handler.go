package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
	"packmarket/internal/service"

	"github.com/gin-gonic/gin"
)

type UserStore interface {
	GetByTgID(ctx context.Context, tgID int64) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

type TransactionHistory interface {
	GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error)
}

type PackAPI interface {
	CreateDraft(ctx context.Context, creatorID int64, tier domain.PackTier, title string, price int64) (*domain.CreatorPack, error)
	AddCard(ctx context.Context, creatorID, packID int64, d domain.CardDescriptor) (*domain.CreatorPack, error)
	UpdateCard(ctx context.Context, creatorID, packID int64, index int, d domain.CardDescriptor) (*domain.CreatorPack, error)
	RemoveCard(ctx context.Context, creatorID, packID int64, index int) (*domain.CreatorPack, error)
	UpdateDetails(ctx context.Context, creatorID, packID int64, title string, price int64) (*domain.CreatorPack, error)
	Preview(ctx context.Context, creatorID, packID int64) (economy.ValidationResult, error)
	PublishEligibility(ctx context.Context, creatorID int64) (domain.PublishDecision, error)
	Publish(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error)
	Archive(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error)
	Cancel(ctx context.Context, creatorID, packID int64) (*domain.CreatorPack, error)
	ListLive(ctx context.Context, limit int) ([]domain.PackSummary, error)
	Get(ctx context.Context, viewerID, packID int64) (*domain.CreatorPack, error)
	ListByCreator(ctx context.Context, creatorID int64) ([]*domain.CreatorPack, error)
}

type PurchaseAPI interface {
	Purchase(ctx context.Context, packID, buyerID int64, authorization string) (*domain.PackPurchase, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*domain.PackPurchase, error)
	Get(ctx context.Context, buyerID int64, purchaseID string) (*domain.PackPurchase, error)
	Collection(ctx context.Context, playerID int64, limit int) ([]*domain.PlayerCard, error)
	Items(ctx context.Context, playerID int64) ([]*domain.PlayerItem, error)
}

type SeasonAPI interface {
	Info(ctx context.Context) (domain.SeasonSummary, error)
	Progress(ctx context.Context, playerID int64) (domain.ProgressView, error)
	ClaimReward(ctx context.Context, playerID int64, rewardID string) (*domain.Reward, error)
	ClaimDaily(ctx context.Context, playerID int64) (*service.DailyClaimResult, error)
	Leaderboard(ctx context.Context, seasonID int64, topN int) ([]domain.LeaderboardEntry, error)
	Position(ctx context.Context, playerID int64) (int, error)
	ReportEvent(ctx context.Context, playerID int64, kind domain.XPEventKind, ref string) (*domain.PlayerProgress, error)
}

type InitDataVerifier interface {
	Verify(initData string) (url.Values, error)
}

type LoginAuditor interface {
	LogLogin(ctx context.Context, userID int64, ip, userAgent string)
}

type Handler struct {
	InitData InitDataVerifier // nil only with DevMode
	DevMode  bool

	Users        UserStore
	Transactions TransactionHistory
	Packs        PackAPI
	Purchases    PurchaseAPI
	Seasons      SeasonAPI
	Audit        LoginAuditor // optional

	// LeaderboardTopN is the default and maximum leaderboard page size.
	LeaderboardTopN int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// getUserID извлекает user_id из контекста Gin
func getUserID(c interface{ Get(string) (any, bool) }) (int64, bool) {
	uidVal, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	switch v := uidVal.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// mustUser writes 401 and returns false when the request is not authenticated.
func mustUser(c *gin.Context) (int64, bool) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return 0, false
	}
	return userID, true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": "bad_request"})
		return 0, false
	}
	return id, true
}

// queryLimit reads ?limit= clamped to [1, max]
func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
