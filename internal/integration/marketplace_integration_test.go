package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"packmarket/internal/db"
	"packmarket/internal/domain"
	"packmarket/internal/repository"
	"packmarket/internal/service"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	pool, err := db.Open(context.Background(), dsn, db.PoolOptions{MaxConns: 30})
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	applyMigrations(t, pool)
	return pool
}

func applyMigrations(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	migDir := filepath.Join("..", "migrations")
	files, err := os.ReadDir(migDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(migDir, name))
		if err != nil {
			t.Fatalf("read file: %v", err)
		}
		if _, err := db.Exec(context.Background(), string(b)); err != nil {
			t.Fatalf("apply migration %s: %v", name, err)
		}
	}
}

type fixedSignal struct{}

func (fixedSignal) Lookup(_ context.Context, sourceURL string) (*domain.Signal, error) {
	return &domain.Signal{Popularity: 50, Followers: 250000}, nil
}

// newUser creates a user with a unique telegram id
func newUser(t *testing.T, ctx context.Context, users *repository.UserRepository, name string) *domain.User {
	t.Helper()
	u := &domain.User{TgID: time.Now().UnixNano(), Username: name, FirstName: name}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func fillDraft(t *testing.T, ctx context.Context, packs *service.PackService, creatorID int64, tier domain.PackTier, n int, price int64) *domain.CreatorPack {
	t.Helper()
	p, err := packs.CreateDraft(ctx, creatorID, tier, "Integration Pack", price)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	for i := 0; i < n; i++ {
		p, err = packs.AddCard(ctx, creatorID, p.ID, domain.CardDescriptor{
			ArtistName: fmt.Sprintf("Artist %d", i),
			SourceURL:  fmt.Sprintf("https://open.spotify.com/artist/%022d", i+1),
		})
		if err != nil {
			t.Fatalf("add card %d: %v", i, err)
		}
	}
	return p
}

func TestConcurrentPublishLeavesOneLivePack(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	packRepo := repository.NewPackRepository(db)
	packs := service.NewPackService(packRepo, fixedSignal{}, service.NewLimitLedger(7*24*time.Hour), 100000)

	creator := newUser(t, ctx, users, "creator")
	const drafts = 6
	ids := make([]int64, drafts)
	for i := range ids {
		ids[i] = fillDraft(t, ctx, packs, creator.ID, domain.PackTierMicro, 5, 300).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published int
		blocked   int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := packs.Publish(ctx, creator.ID, id)
			var pb *service.PublishBlockedError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				published++
			case errors.As(err, &pb):
				blocked++
			default:
				t.Errorf("publish %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if published != 1 || blocked != drafts-1 {
		t.Fatalf("expected 1 published and %d blocked, got %d and %d", drafts-1, published, blocked)
	}

	var live int
	if err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM creator_packs WHERE creator_id = $1 AND state = 'live'`, creator.ID,
	).Scan(&live); err != nil {
		t.Fatalf("count live: %v", err)
	}
	if live != 1 {
		t.Fatalf("expected 1 live pack in the database, got %d", live)
	}

	limit, err := packRepo.GetLimit(ctx, creator.ID)
	if err != nil {
		t.Fatalf("get limit: %v", err)
	}
	if limit.CurrentLivePackID == nil || limit.LastPublishedAt == nil {
		t.Fatalf("limit row not updated: %+v", limit)
	}
}

func TestPurchaseEndToEnd(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	packRepo := repository.NewPackRepository(db)
	cards := repository.NewCardRepository(db)
	balance := service.NewBalanceService(db)

	seasons := service.NewSeasonService(repository.NewSeasonRepository(db), service.NewCatalogGranter(balance, cards), service.SeasonOptions{
		Length: 60 * 24 * time.Hour, TopN: 100, BonusTopN: 10,
	})
	if _, err := seasons.EnsureActiveSeason(ctx); err != nil {
		t.Fatalf("ensure season: %v", err)
	}

	packs := service.NewPackService(packRepo, fixedSignal{}, service.NewLimitLedger(7*24*time.Hour), 100000)
	purchases := service.NewPurchaseService(packRepo, repository.NewPurchaseRepository(db), cards,
		service.NewGemsPaymentProvider(db, balance), seasons, balance,
		service.PurchaseOptions{CreatorSharePct: 70, MaxAttempts: 5})

	creator := newUser(t, ctx, users, "creator")
	buyer := newUser(t, ctx, users, "buyer")
	if _, err := balance.Credit(ctx, buyer.ID, 1000, "test_topup", map[string]interface{}{"source": "integration"}); err != nil {
		t.Fatalf("credit buyer: %v", err)
	}
	creatorBefore, _ := balance.GetBalance(ctx, creator.ID)
	buyerBefore, _ := balance.GetBalance(ctx, buyer.ID)

	pack := fillDraft(t, ctx, packs, creator.ID, domain.PackTierMicro, 5, 400)
	if _, err := packs.Publish(ctx, creator.ID, pack.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	auth := fmt.Sprintf("auth-%d", time.Now().UnixNano())
	purchase, err := purchases.Purchase(ctx, pack.ID, buyer.ID, auth)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.Status != domain.PurchaseStatusCompleted || len(purchase.MintedCardIDs) != 5 {
		t.Fatalf("unexpected purchase: %+v", purchase)
	}

	// same authorization again must not charge twice
	if _, err := purchases.Purchase(ctx, pack.ID, buyer.ID, auth); !errors.Is(err, service.ErrPaymentDeclined) {
		t.Fatalf("expected reused authorization to be declined, got %v", err)
	}

	buyerAfter, _ := balance.GetBalance(ctx, buyer.ID)
	if buyerBefore-buyerAfter != 400 {
		t.Fatalf("expected buyer charged 400 once, before=%d after=%d", buyerBefore, buyerAfter)
	}
	creatorAfter, _ := balance.GetBalance(ctx, creator.ID)
	if creatorAfter-creatorBefore != 280 {
		t.Fatalf("expected creator share 280, before=%d after=%d", creatorBefore, creatorAfter)
	}

	owned, err := purchases.Collection(ctx, buyer.ID, 100)
	if err != nil || len(owned) != 5 {
		t.Fatalf("expected 5 cards in collection, got %d (%v)", len(owned), err)
	}

	progress, err := seasons.Progress(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	// 5 cards opened + 5 new artists
	if progress.XP <= 0 || progress.CardsOpened != 5 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	// reconciling a completed purchase is a no-op
	again, err := purchases.Reconcile(ctx, purchase.ID)
	if err != nil || again.Status != domain.PurchaseStatusCompleted {
		t.Fatalf("reconcile completed purchase: %+v %v", again, err)
	}
	after, _ := seasons.Progress(ctx, buyer.ID)
	if after.XP != progress.XP {
		t.Fatalf("xp changed on reconcile: %d -> %d", progress.XP, after.XP)
	}
}

func TestXPEventKeyIsIdempotent(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	cards := repository.NewCardRepository(db)
	seasons := service.NewSeasonService(repository.NewSeasonRepository(db),
		service.NewCatalogGranter(service.NewBalanceService(db), cards),
		service.SeasonOptions{Length: 60 * 24 * time.Hour, TopN: 100, BonusTopN: 10})
	if _, err := seasons.EnsureActiveSeason(ctx); err != nil {
		t.Fatalf("ensure season: %v", err)
	}

	player := newUser(t, ctx, users, "player")
	ref := fmt.Sprintf("battle-%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := seasons.ReportEvent(ctx, player.ID, domain.XPEventBattleWon, ref); err != nil {
				t.Errorf("report: %v", err)
			}
		}()
	}
	wg.Wait()

	progress, err := seasons.Progress(ctx, player.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.BattlesWon != 1 {
		t.Fatalf("expected one battle counted, got %d", progress.BattlesWon)
	}
}

func TestSeasonCloseRacesAwards(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	repo := repository.NewSeasonRepository(db)

	now := time.Now().UTC()
	season := &domain.Season{
		Theme:   "Close Race",
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		Rewards: service.RewardCatalog("Close Race", now),
	}
	if err := repo.CreateSeason(ctx, season); err != nil {
		t.Fatalf("create season: %v", err)
	}
	players := []*domain.User{newUser(t, ctx, users, "racer-a"), newUser(t, ctx, users, "racer-b")}

	var (
		wg       sync.WaitGroup
		snapshot []domain.LeaderboardEntry
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := players[i%len(players)]
			key := fmt.Sprintf("close-race:%d:%d", season.ID, i)
			_, _, err := repo.ApplyXP(ctx, season.ID, p.ID, key, domain.ProgressDelta{XP: 10}, time.Now().UTC())
			if err != nil && !errors.Is(err, repository.ErrSeasonClosed) {
				t.Errorf("apply xp: %v", err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, closed, err := repo.CloseSeason(ctx, season.ID, time.Now().UTC(), 1)
		if err != nil || !closed {
			t.Errorf("close season: closed=%v err=%v", closed, err)
			return
		}
		snapshot = snap
	}()
	wg.Wait()

	// every award either made it into the snapshot or was rejected
	inSnapshot := map[int64]int64{}
	for _, e := range snapshot {
		inSnapshot[e.PlayerID] = e.XP
	}
	for _, p := range players {
		progress, err := repo.GetProgress(ctx, season.ID, p.ID)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		if progress.XP != inSnapshot[p.ID] {
			t.Fatalf("player %d: progress xp %d, snapshot xp %d", p.ID, progress.XP, inSnapshot[p.ID])
		}
	}

	late := players[0].ID
	if _, _, err := repo.ApplyXP(ctx, season.ID, late, fmt.Sprintf("close-race:%d:late", season.ID), domain.ProgressDelta{XP: 10}, time.Now().UTC()); !errors.Is(err, repository.ErrSeasonClosed) {
		t.Fatalf("xp after close err = %v", err)
	}
	_, err := repo.RecordClaim(ctx, &domain.RewardClaim{
		SeasonID:  season.ID,
		PlayerID:  late,
		RewardID:  season.Rewards[0].ID,
		ClaimedAt: time.Now().UTC(),
	})
	if !errors.Is(err, repository.ErrSeasonClosed) {
		t.Fatalf("claim after close err = %v", err)
	}
	if _, closed, err := repo.CloseSeason(ctx, season.ID, time.Now().UTC(), 1); err != nil || closed {
		t.Fatalf("second close: closed=%v err=%v", closed, err)
	}
}

// packCards builds unminted cards for every entry of pack
func packCards(pack *domain.CreatorPack, ownerID int64, purchaseID string) []domain.PlayerCard {
	cards := make([]domain.PlayerCard, 0, len(pack.Cards))
	for slot, e := range pack.Cards {
		packID := pack.ID
		cards = append(cards, domain.PlayerCard{
			OwnerID:    ownerID,
			PurchaseID: &purchaseID,
			PackID:     &packID,
			Slot:       slot,
			ArtistName: e.ArtistName,
			SourceURL:  e.SourceURL,
			Rarity:     domain.RarityCommon,
			MintedAt:   time.Now(),
		})
	}
	return cards
}

func TestConcurrentCommitsCountArtistsOnce(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	packRepo := repository.NewPackRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	packs := service.NewPackService(packRepo, fixedSignal{}, service.NewLimitLedger(7*24*time.Hour), 100000)

	creator := newUser(t, ctx, users, "creator")
	buyer := newUser(t, ctx, users, "buyer")
	draft := fillDraft(t, ctx, packs, creator.ID, domain.PackTierMicro, 5, 100)
	pack, err := packs.Publish(ctx, creator.ID, draft.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	const buyers = 6
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		total  int
		firsts int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &domain.PackPurchase{
				ID:               uuid.NewString(),
				PackID:           pack.ID,
				BuyerID:          buyer.ID,
				AmountCharged:    100,
				PaymentReference: uuid.NewString(),
				Status:           domain.PurchaseStatusCompleted,
			}
			if err := purchaseRepo.CommitPurchase(ctx, p, packCards(pack, buyer.ID, p.ID)); err != nil {
				t.Errorf("commit %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			total += len(p.NewArtists)
			if len(p.NewArtists) == 5 {
				firsts++
			}
		}(i)
	}
	wg.Wait()

	if total != 5 || firsts != 1 {
		t.Fatalf("expected one commit with all 5 new artists, got total=%d firsts=%d", total, firsts)
	}
}

func TestOrphanCaptureIsAdopted(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db)
	packRepo := repository.NewPackRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	balance := service.NewBalanceService(db)
	packs := service.NewPackService(packRepo, fixedSignal{}, service.NewLimitLedger(7*24*time.Hour), 100000)

	creator := newUser(t, ctx, users, "creator")
	buyer := newUser(t, ctx, users, "buyer")
	if _, err := balance.Credit(ctx, buyer.ID, 500, "test_topup", map[string]interface{}{"source": "integration"}); err != nil {
		t.Fatalf("credit buyer: %v", err)
	}
	draft := fillDraft(t, ctx, packs, creator.ID, domain.PackTierMicro, 5, 200)
	pack, err := packs.Publish(ctx, creator.ID, draft.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	// payment goes through, the purchase row is never written
	purchaseID := uuid.NewString()
	receipt, err := service.NewGemsPaymentProvider(db, balance).Capture(ctx, service.Charge{
		PayerID:       buyer.ID,
		Amount:        200,
		Authorization: fmt.Sprintf("orphan-%d", time.Now().UnixNano()),
		PurchaseID:    purchaseID,
		PackID:        pack.ID,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if ids, err := purchaseRepo.AdoptOrphanCaptures(ctx, time.Now().Add(-time.Hour), 100); err != nil || contains(ids, purchaseID) {
		t.Fatalf("capture adopted before cutoff: %v %v", ids, err)
	}
	ids, err := purchaseRepo.AdoptOrphanCaptures(ctx, time.Now().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if !contains(ids, purchaseID) {
		t.Fatalf("capture %s not adopted: %v", purchaseID, ids)
	}
	if again, _ := purchaseRepo.AdoptOrphanCaptures(ctx, time.Now().Add(time.Minute), 100); contains(again, purchaseID) {
		t.Fatal("capture adopted twice")
	}

	p, err := purchaseRepo.GetPurchase(ctx, purchaseID)
	if err != nil {
		t.Fatalf("get adopted purchase: %v", err)
	}
	if !p.Pending() || p.BuyerID != buyer.ID || p.PackID != pack.ID || p.AmountCharged != 200 || p.PaymentReference != receipt.Reference {
		t.Fatalf("unexpected adopted purchase: %+v", p)
	}

	minted, artists, err := purchaseRepo.MintForPurchase(ctx, purchaseID, packCards(pack, buyer.ID, purchaseID))
	if err != nil || len(minted) != 5 || len(artists) != 5 {
		t.Fatalf("mint adopted purchase: %v %v %v", minted, artists, err)
	}
	// a second mint keeps the artists decided the first time
	if _, artists, err := purchaseRepo.MintForPurchase(ctx, purchaseID, packCards(pack, buyer.ID, purchaseID)); err != nil || len(artists) != 5 {
		t.Fatalf("second mint: %v %v", artists, err)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
