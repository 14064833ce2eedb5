package service

import (
	"context"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/repository"
)

type PackStore interface {
	CreatePack(ctx context.Context, p *domain.CreatorPack) error
	GetPack(ctx context.Context, id int64) (*domain.CreatorPack, error)
	ListLive(ctx context.Context, limit int) ([]*domain.CreatorPack, error)
	ListByCreator(ctx context.Context, creatorID int64) ([]*domain.CreatorPack, error)
	GetLimit(ctx context.Context, creatorID int64) (*domain.CreatorLimit, error)
	InCreatorTx(ctx context.Context, creatorID int64, fn func(repository.CreatorScope) error) error
}

type PurchaseStore interface {
	CommitPurchase(ctx context.Context, p *domain.PackPurchase, cards []domain.PlayerCard) error
	RecordPending(ctx context.Context, p *domain.PackPurchase) error
	MintForPurchase(ctx context.Context, purchaseID string, cards []domain.PlayerCard) ([]int64, []string, error)
	AdoptOrphanCaptures(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	MarkPending(ctx context.Context, id string, stage domain.PurchaseStage, lastErr string) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	GetPurchase(ctx context.Context, id string) (*domain.PackPurchase, error)
	ListPending(ctx context.Context, maxAttempts, limit int) ([]*domain.PackPurchase, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*domain.PackPurchase, error)
}

type CardStore interface {
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*domain.PlayerCard, error)
	GrantCard(ctx context.Context, c *domain.PlayerCard) error
	GrantItem(ctx context.Context, it *domain.PlayerItem) error
	ListItems(ctx context.Context, playerID int64) ([]*domain.PlayerItem, error)
}

type SeasonStore interface {
	CreateSeason(ctx context.Context, s *domain.Season) error
	ActiveSeason(ctx context.Context, now time.Time) (*domain.Season, error)
	LatestSeason(ctx context.Context) (*domain.Season, error)
	GetSeason(ctx context.Context, id int64) (*domain.Season, error)
	SeasonForReward(ctx context.Context, rewardID string) (*domain.Season, error)
	DueSeasons(ctx context.Context, now time.Time) ([]*domain.Season, error)
	CloseSeason(ctx context.Context, seasonID int64, at time.Time, bonusTopN int) ([]domain.LeaderboardEntry, bool, error)
	ApplyXP(ctx context.Context, seasonID, playerID int64, eventKey string, delta domain.ProgressDelta, now time.Time) (*domain.PlayerProgress, bool, error)
	GetProgress(ctx context.Context, seasonID, playerID int64) (*domain.PlayerProgress, error)
	RecordClaim(ctx context.Context, c *domain.RewardClaim) (bool, error)
	DeleteClaim(ctx context.Context, playerID int64, rewardID string) error
	Top(ctx context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error)
	PlayerPosition(ctx context.Context, seasonID, playerID int64) (int, error)
	Snapshot(ctx context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error)
}

// LeaderboardIndex is an ordered XP index kept alongside season_progress.
type LeaderboardIndex interface {
	Record(ctx context.Context, season *domain.Season, p *domain.PlayerProgress) error
	Top(ctx context.Context, season *domain.Season, n int) ([]domain.LeaderboardEntry, error)
	Position(ctx context.Context, season *domain.Season, playerID int64) (int, error)
}

// Enricher looks up provider popularity data for a source url.
type Enricher interface {
	Lookup(ctx context.Context, sourceURL string) (*domain.Signal, error)
}

// Charge is a payment request. PurchaseID and PackID link the capture to the
// purchase it pays for, so the purchase can be rebuilt from the capture.
type Charge struct {
	PayerID       int64
	Amount        int64
	Authorization string
	Description   string
	PurchaseID    string
	PackID        int64
}

type Receipt struct {
	Reference string
	Amount    int64
}

// PaymentProvider captures a payment. A decline must wrap ErrPaymentDeclined
// and leave no side effects.
type PaymentProvider interface {
	Capture(ctx context.Context, c Charge) (Receipt, error)
}

type Crediter interface {
	Credit(ctx context.Context, userID int64, amount int64, txType string, meta map[string]interface{}) (int64, error)
}

// Notifier pushes an event to a connected user.
type Notifier interface {
	Notify(userID int64, event string, payload interface{})
}

type Auditor interface {
	Log(ctx context.Context, userID int64, action, category string, details map[string]interface{})
}

type nopNotifier struct{}

func (nopNotifier) Notify(int64, string, interface{}) {}

type nopAuditor struct{}

func (nopAuditor) Log(context.Context, int64, string, string, map[string]interface{}) {}

// Notifiers fans an event out to each notifier in order
type Notifiers []Notifier

func (ns Notifiers) Notify(userID int64, event string, payload interface{}) {
	for _, n := range ns {
		if n != nil {
			n.Notify(userID, event, payload)
		}
	}
}
