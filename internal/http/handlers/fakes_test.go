package handlers

import (
	"context"
	"sync"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
	"packmarket/internal/repository"
	"packmarket/internal/service"
)

type fakeUsers struct {
	mu     sync.Mutex
	byTg   map[int64]*domain.User
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byTg: make(map[int64]*domain.User), nextID: 100}
}

func (f *fakeUsers) GetByTgID(_ context.Context, tgID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byTg[tgID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byTg {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u.ID = f.nextID
	u.Gems = 1000
	u.CreatedAt = time.Now()
	f.byTg[u.TgID] = u
	return nil
}

type fakeLogins struct{ users []int64 }

func (f *fakeLogins) LogLogin(_ context.Context, userID int64, _, _ string) {
	f.users = append(f.users, userID)
}

type fakeHistory struct{}

func (fakeHistory) GetTransactionHistory(_ context.Context, userID int64, _ int) ([]*domain.Transaction, error) {
	return []*domain.Transaction{{
		ID: 1, UserID: userID, Type: domain.TxPackPurchase, Amount: -500,
		Meta: map[string]interface{}{"purchase_id": "p-1"},
	}}, nil
}

// fakePacks returns pack/err for every mutating call and records what it saw.
type fakePacks struct {
	pack     *domain.CreatorPack
	err      error
	live     []domain.PackSummary
	result   economy.ValidationResult
	decision domain.PublishDecision

	last      string
	lastUser  int64
	lastPack  int64
	lastIndex int
	lastCard  domain.CardDescriptor
	lastTier  domain.PackTier
	lastTitle string
	lastPrice int64
	lastLimit int
}

func (f *fakePacks) record(name string, userID, packID int64) (*domain.CreatorPack, error) {
	f.last, f.lastUser, f.lastPack = name, userID, packID
	if f.err != nil {
		return nil, f.err
	}
	return f.pack, nil
}

func (f *fakePacks) CreateDraft(_ context.Context, creatorID int64, tier domain.PackTier, title string, price int64) (*domain.CreatorPack, error) {
	f.lastTier, f.lastTitle, f.lastPrice = tier, title, price
	return f.record("create", creatorID, 0)
}

func (f *fakePacks) AddCard(_ context.Context, creatorID, packID int64, d domain.CardDescriptor) (*domain.CreatorPack, error) {
	f.lastCard = d
	return f.record("add_card", creatorID, packID)
}

func (f *fakePacks) UpdateCard(_ context.Context, creatorID, packID int64, index int, d domain.CardDescriptor) (*domain.CreatorPack, error) {
	f.lastCard, f.lastIndex = d, index
	return f.record("update_card", creatorID, packID)
}

func (f *fakePacks) RemoveCard(_ context.Context, creatorID, packID int64, index int) (*domain.CreatorPack, error) {
	f.lastIndex = index
	return f.record("remove_card", creatorID, packID)
}

func (f *fakePacks) UpdateDetails(_ context.Context, creatorID, packID int64, title string, price int64) (*domain.CreatorPack, error) {
	f.lastTitle, f.lastPrice = title, price
	return f.record("details", creatorID, packID)
}

func (f *fakePacks) Preview(_ context.Context, creatorID, packID int64) (economy.ValidationResult, error) {
	_, err := f.record("preview", creatorID, packID)
	return f.result, err
}

func (f *fakePacks) PublishEligibility(_ context.Context, creatorID int64) (domain.PublishDecision, error) {
	_, err := f.record("eligibility", creatorID, 0)
	return f.decision, err
}

func (f *fakePacks) Publish(_ context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	return f.record("publish", creatorID, packID)
}

func (f *fakePacks) Archive(_ context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	return f.record("archive", creatorID, packID)
}

func (f *fakePacks) Cancel(_ context.Context, creatorID, packID int64) (*domain.CreatorPack, error) {
	return f.record("cancel", creatorID, packID)
}

func (f *fakePacks) ListLive(_ context.Context, limit int) ([]domain.PackSummary, error) {
	f.lastLimit = limit
	return f.live, f.err
}

func (f *fakePacks) Get(_ context.Context, viewerID, packID int64) (*domain.CreatorPack, error) {
	return f.record("get", viewerID, packID)
}

func (f *fakePacks) ListByCreator(_ context.Context, creatorID int64) ([]*domain.CreatorPack, error) {
	p, err := f.record("mine", creatorID, 0)
	if err != nil {
		return nil, err
	}
	return []*domain.CreatorPack{p}, nil
}

type fakePurchases struct {
	purchase *domain.PackPurchase
	err      error

	lastAuth  string
	lastBuyer int64
	lastPack  int64
	lastID    string
}

func (f *fakePurchases) Purchase(_ context.Context, packID, buyerID int64, authorization string) (*domain.PackPurchase, error) {
	f.lastPack, f.lastBuyer, f.lastAuth = packID, buyerID, authorization
	if f.err != nil {
		return nil, f.err
	}
	return f.purchase, nil
}

func (f *fakePurchases) ListByBuyer(_ context.Context, buyerID int64, _ int) ([]*domain.PackPurchase, error) {
	f.lastBuyer = buyerID
	return []*domain.PackPurchase{f.purchase}, f.err
}

func (f *fakePurchases) Get(_ context.Context, buyerID int64, purchaseID string) (*domain.PackPurchase, error) {
	f.lastBuyer, f.lastID = buyerID, purchaseID
	if f.err != nil {
		return nil, f.err
	}
	return f.purchase, nil
}

func (f *fakePurchases) Collection(_ context.Context, playerID int64, _ int) ([]*domain.PlayerCard, error) {
	return []*domain.PlayerCard{{ID: 1, OwnerID: playerID, ArtistName: "Nova"}}, f.err
}

func (f *fakePurchases) Items(_ context.Context, _ int64) ([]*domain.PlayerItem, error) {
	return nil, f.err
}

type fakeSeasons struct {
	err     error
	entries []domain.LeaderboardEntry

	lastSeason int64
	lastTopN   int
	lastKind   domain.XPEventKind
	lastRef    string
	lastPlayer int64
	lastReward string
}

func (f *fakeSeasons) Info(context.Context) (domain.SeasonSummary, error) {
	return domain.SeasonSummary{ID: 3, Theme: "Neon Nights"}, f.err
}

func (f *fakeSeasons) Progress(_ context.Context, playerID int64) (domain.ProgressView, error) {
	f.lastPlayer = playerID
	p := &domain.PlayerProgress{SeasonID: 3, PlayerID: playerID, XP: 250}
	return p.View(), f.err
}

func (f *fakeSeasons) ClaimReward(_ context.Context, playerID int64, rewardID string) (*domain.Reward, error) {
	f.lastPlayer, f.lastReward = playerID, rewardID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Reward{ID: rewardID, UnlockLevel: 2, Title: "Gems", Payload: domain.CurrencyReward{Amount: 100}}, nil
}

func (f *fakeSeasons) ClaimDaily(_ context.Context, playerID int64) (*service.DailyClaimResult, error) {
	f.lastPlayer = playerID
	if f.err != nil {
		return nil, f.err
	}
	return &service.DailyClaimResult{XP: 25, Streak: 1}, nil
}

func (f *fakeSeasons) Leaderboard(_ context.Context, seasonID int64, topN int) ([]domain.LeaderboardEntry, error) {
	f.lastSeason, f.lastTopN = seasonID, topN
	return f.entries, f.err
}

func (f *fakeSeasons) Position(_ context.Context, playerID int64) (int, error) {
	f.lastPlayer = playerID
	return 4, f.err
}

func (f *fakeSeasons) ReportEvent(_ context.Context, playerID int64, kind domain.XPEventKind, ref string) (*domain.PlayerProgress, error) {
	f.lastPlayer, f.lastKind, f.lastRef = playerID, kind, ref
	if f.err != nil {
		return nil, f.err
	}
	return &domain.PlayerProgress{PlayerID: playerID, XP: 40, BattlesWon: 1}, nil
}
