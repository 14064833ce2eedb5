package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memPacks mimics PackRepository: InCreatorTx serializes per creator and
// only publishes staged writes when fn succeeds.
type memPacks struct {
	mu     sync.Mutex
	nextID int64
	packs  map[int64]*domain.CreatorPack
	limits map[int64]*domain.CreatorLimit
	locks  map[int64]*sync.Mutex
}

func newMemPacks() *memPacks {
	return &memPacks{
		packs:  map[int64]*domain.CreatorPack{},
		limits: map[int64]*domain.CreatorLimit{},
		locks:  map[int64]*sync.Mutex{},
	}
}

func (m *memPacks) CreatePack(_ context.Context, p *domain.CreatorPack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.packs[p.ID] = p.Clone()
	return nil
}

func (m *memPacks) GetPack(_ context.Context, id int64) (*domain.CreatorPack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memPacks) ListLive(_ context.Context, limit int) ([]*domain.CreatorPack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CreatorPack
	for _, p := range m.packs {
		if p.State == domain.PackStateLive {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPacks) ListByCreator(_ context.Context, creatorID int64) ([]*domain.CreatorPack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CreatorPack
	for _, p := range m.packs {
		if p.CreatorID == creatorID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memPacks) GetLimit(_ context.Context, creatorID int64) (*domain.CreatorLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitCopy(creatorID), nil
}

func (m *memPacks) limitCopy(creatorID int64) *domain.CreatorLimit {
	l, ok := m.limits[creatorID]
	if !ok {
		return &domain.CreatorLimit{CreatorID: creatorID}
	}
	cp := *l
	return &cp
}

func (m *memPacks) liveCount(creatorID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.packs {
		if p.CreatorID == creatorID && p.State == domain.PackStateLive {
			n++
		}
	}
	return n
}

func (m *memPacks) InCreatorTx(ctx context.Context, creatorID int64, fn func(repository.CreatorScope) error) error {
	m.mu.Lock()
	lock, ok := m.locks[creatorID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[creatorID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	scope := &memScope{store: m, creatorID: creatorID, packs: map[int64]*domain.CreatorPack{}}
	if err := fn(scope); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range scope.packs {
		m.packs[id] = p
	}
	if scope.limit != nil {
		m.limits[creatorID] = scope.limit
	}
	return nil
}

type memScope struct {
	store     *memPacks
	creatorID int64
	packs     map[int64]*domain.CreatorPack
	limit     *domain.CreatorLimit
}

func (s *memScope) Pack(ctx context.Context, id int64) (*domain.CreatorPack, error) {
	if p, ok := s.packs[id]; ok {
		return p.Clone(), nil
	}
	p, err := s.store.GetPack(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != s.creatorID {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (s *memScope) Limit(context.Context) (*domain.CreatorLimit, error) {
	if s.limit != nil {
		cp := *s.limit
		return &cp, nil
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.limitCopy(s.creatorID), nil
}

func (s *memScope) SavePack(_ context.Context, p *domain.CreatorPack) error {
	s.packs[p.ID] = p.Clone()
	return nil
}

func (s *memScope) SaveLimit(_ context.Context, l *domain.CreatorLimit) error {
	cp := *l
	s.limit = &cp
	return nil
}

type memCards struct {
	mu     sync.Mutex
	nextID int64
	cards  []domain.PlayerCard
	items  []domain.PlayerItem
}

func (m *memCards) ListByOwner(_ context.Context, ownerID int64, _ int) ([]*domain.PlayerCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PlayerCard
	for i := range m.cards {
		if m.cards[i].OwnerID == ownerID {
			c := m.cards[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memCards) GrantCard(_ context.Context, c *domain.PlayerCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.cards = append(m.cards, *c)
	return nil
}

func (m *memCards) GrantItem(_ context.Context, it *domain.PlayerItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = int64(len(m.items) + 1)
	m.items = append(m.items, *it)
	return nil
}

func (m *memCards) ListItems(_ context.Context, playerID int64) ([]*domain.PlayerItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PlayerItem
	for i := range m.items {
		if m.items[i].PlayerID == playerID {
			it := m.items[i]
			out = append(out, &it)
		}
	}
	return out, nil
}

func (m *memCards) count(ownerID int64) int {
	cards, _ := m.ListByOwner(context.Background(), ownerID, 0)
	return len(cards)
}

// mintNew decides the owner's new artists and mints in one critical section,
// like the collection lock in CommitPurchase.
func (m *memCards) mintNew(ownerID int64, purchaseID string, cards []domain.PlayerCard) ([]int64, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []string
	for _, c := range m.cards {
		if c.OwnerID == ownerID {
			owned = append(owned, c.ArtistName)
		}
	}
	names := make([]string, 0, len(cards))
	for _, c := range cards {
		names = append(names, c.ArtistName)
	}
	return m.mintLocked(purchaseID, cards), domain.NewArtists(owned, names)
}

// mint inserts cards keyed by (purchase, slot), skipping existing slots
func (m *memCards) mint(purchaseID string, cards []domain.PlayerCard) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintLocked(purchaseID, cards)
}

func (m *memCards) mintLocked(purchaseID string, cards []domain.PlayerCard) []int64 {
	ids := make([]int64, 0, len(cards))
	for _, c := range cards {
		var found int64
		for _, have := range m.cards {
			if have.PurchaseID != nil && *have.PurchaseID == purchaseID && have.Slot == c.Slot {
				found = have.ID
				break
			}
		}
		if found == 0 {
			m.nextID++
			c.ID = m.nextID
			m.cards = append(m.cards, c)
			found = c.ID
		}
		ids = append(ids, found)
	}
	return ids
}

type memPurchases struct {
	mu        sync.Mutex
	cards     *memCards
	payments  *fakePayments
	purchases map[string]*domain.PackPurchase
	commitErr error
	mintErr   error
	recordErr error
}

func newMemPurchases(cards *memCards, payments *fakePayments) *memPurchases {
	return &memPurchases{cards: cards, payments: payments, purchases: map[string]*domain.PackPurchase{}}
}

func (m *memPurchases) CommitPurchase(_ context.Context, p *domain.PackPurchase, cards []domain.PlayerCard) error {
	m.mu.Lock()
	if m.commitErr != nil {
		err := m.commitErr
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	ids, artists := m.cards.mintNew(p.BuyerID, p.ID, cards)
	p.MintedCardIDs = ids
	p.NewArtists = artists
	p.CreatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.purchases[p.ID] = &cp
	return nil
}

func (m *memPurchases) RecordPending(_ context.Context, p *domain.PackPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	if _, dup := m.purchases[p.ID]; dup {
		return fmt.Errorf("duplicate purchase %s", p.ID)
	}
	cp := *p
	m.purchases[p.ID] = &cp
	return nil
}

func (m *memPurchases) MintForPurchase(_ context.Context, purchaseID string, cards []domain.PlayerCard) ([]int64, []string, error) {
	m.mu.Lock()
	if m.mintErr != nil {
		err := m.mintErr
		m.mu.Unlock()
		return nil, nil, err
	}
	p, ok := m.purchases[purchaseID]
	var (
		minted  = ok && len(p.MintedCardIDs) > 0
		artists []string
	)
	if ok {
		artists = p.NewArtists
	}
	m.mu.Unlock()
	if !ok {
		return nil, nil, repository.ErrNotFound
	}

	var ids []int64
	if minted {
		ids = m.cards.mint(purchaseID, cards)
	} else {
		ids, artists = m.cards.mintNew(p.BuyerID, purchaseID, cards)
	}
	m.mu.Lock()
	p.MintedCardIDs = ids
	p.NewArtists = artists
	m.mu.Unlock()
	return ids, artists, nil
}

// AdoptOrphanCaptures mirrors the repository: captures before cutoff with a
// purchase id but no purchase become pending purchases.
func (m *memPurchases) AdoptOrphanCaptures(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	captures := m.payments.snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range captures {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if c.PurchaseID == "" || c.PackID == 0 || !c.at.Before(cutoff) {
			continue
		}
		if _, ok := m.purchases[c.PurchaseID]; ok {
			continue
		}
		stage := domain.PurchaseStageMint
		m.purchases[c.PurchaseID] = &domain.PackPurchase{
			ID:               c.PurchaseID,
			PackID:           c.PackID,
			BuyerID:          c.PayerID,
			CreatedAt:        c.at,
			AmountCharged:    c.Amount,
			PaymentReference: c.reference,
			Status:           domain.PurchaseStatusPendingReconciliation,
			FailureStage:     &stage,
			LastError:        "purchase record missing after capture",
		}
		ids = append(ids, c.PurchaseID)
	}
	return ids, nil
}

func (m *memPurchases) MarkPending(_ context.Context, id string, stage domain.PurchaseStage, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return repository.ErrNotFound
	}
	st := stage
	p.Status = domain.PurchaseStatusPendingReconciliation
	p.FailureStage = &st
	p.LastError = lastErr
	p.Attempts++
	return nil
}

func (m *memPurchases) MarkCompleted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = domain.PurchaseStatusCompleted
	p.FailureStage = nil
	p.LastError = ""
	p.ReconciledAt = &at
	return nil
}

func (m *memPurchases) GetPurchase(_ context.Context, id string) (*domain.PackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPurchases) ListPending(_ context.Context, maxAttempts, _ int) ([]*domain.PackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PackPurchase
	for _, p := range m.purchases {
		if p.Pending() && (maxAttempts <= 0 || p.Attempts < maxAttempts) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPurchases) ListByBuyer(_ context.Context, buyerID int64, _ int) ([]*domain.PackPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PackPurchase
	for _, p := range m.purchases {
		if p.BuyerID == buyerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type progressKey struct {
	season int64
	player int64
}

type memSeasons struct {
	mu        sync.Mutex
	seasons   []*domain.Season
	progress  map[progressKey]*domain.PlayerProgress
	events    map[string]bool
	claims    map[string]domain.RewardClaim
	snapshots map[int64][]domain.LeaderboardEntry
	applyErr  error
}

func newMemSeasons() *memSeasons {
	return &memSeasons{
		progress:  map[progressKey]*domain.PlayerProgress{},
		events:    map[string]bool{},
		claims:    map[string]domain.RewardClaim{},
		snapshots: map[int64][]domain.LeaderboardEntry{},
	}
}

func cloneSeason(s *domain.Season) *domain.Season {
	cp := *s
	cp.Rewards = append([]domain.Reward(nil), s.Rewards...)
	return &cp
}

func (m *memSeasons) CreateSeason(_ context.Context, s *domain.Season) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.seasons) + 1)
	m.seasons = append(m.seasons, cloneSeason(s))
	return nil
}

func (m *memSeasons) ActiveSeason(_ context.Context, now time.Time) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.seasons) - 1; i >= 0; i-- {
		if m.seasons[i].ActiveAt(now) {
			return cloneSeason(m.seasons[i]), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSeasons) LatestSeason(context.Context) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seasons) == 0 {
		return nil, repository.ErrNotFound
	}
	return cloneSeason(m.seasons[len(m.seasons)-1]), nil
}

func (m *memSeasons) GetSeason(_ context.Context, id int64) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seasons {
		if s.ID == id {
			return cloneSeason(s), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSeasons) SeasonForReward(_ context.Context, rewardID string) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.seasons) - 1; i >= 0; i-- {
		if _, ok := m.seasons[i].Reward(rewardID); ok {
			return cloneSeason(m.seasons[i]), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSeasons) DueSeasons(_ context.Context, now time.Time) ([]*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Season
	for _, s := range m.seasons {
		if s.ClosedAt == nil && !s.EndAt.After(now) {
			out = append(out, cloneSeason(s))
		}
	}
	return out, nil
}

func (m *memSeasons) CloseSeason(_ context.Context, seasonID int64, at time.Time, bonusTopN int) ([]domain.LeaderboardEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seasons {
		if s.ID == seasonID {
			if s.ClosedAt != nil {
				return nil, false, nil
			}
			t := at
			s.ClosedAt = &t
			snap := m.ranking(seasonID, 0)
			for i := range snap {
				snap[i].BonusEligible = snap[i].Position <= bonusTopN
			}
			m.snapshots[seasonID] = append([]domain.LeaderboardEntry(nil), snap...)
			return snap, true, nil
		}
	}
	return nil, false, repository.ErrNotFound
}

// openSeason mirrors the row lock check of the real store. Caller holds mu.
func (m *memSeasons) openSeason(seasonID int64, at time.Time) error {
	for _, s := range m.seasons {
		if s.ID == seasonID {
			if s.ClosedAt != nil || !at.Before(s.EndAt) {
				return repository.ErrSeasonClosed
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memSeasons) ApplyXP(_ context.Context, seasonID, playerID int64, eventKey string, delta domain.ProgressDelta, now time.Time) (*domain.PlayerProgress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, false, m.applyErr
	}
	if err := m.openSeason(seasonID, now); err != nil {
		return nil, false, err
	}
	key := progressKey{seasonID, playerID}
	if m.events[eventKey] {
		return m.progressCopy(key), false, nil
	}
	m.events[eventKey] = true

	p, ok := m.progress[key]
	if !ok {
		p = &domain.PlayerProgress{SeasonID: seasonID, PlayerID: playerID, LastLevelUpAt: now}
		m.progress[key] = p
	} else if domain.LevelForXP(p.XP+delta.XP) != p.Level() {
		p.LastLevelUpAt = now
	}
	p.XP += delta.XP
	p.CardsOpened += delta.CardsOpened
	p.UniqueArtists += delta.UniqueArtists
	p.BattlesWon += delta.BattlesWon
	p.Trades += delta.Trades
	if delta.DailyClaimAt != nil {
		t := *delta.DailyClaimAt
		p.LastDailyClaim = &t
		p.DailyStreak = delta.DailyStreak
	}
	p.UpdatedAt = now
	return m.progressCopy(key), true, nil
}

func (m *memSeasons) progressCopy(key progressKey) *domain.PlayerProgress {
	p, ok := m.progress[key]
	var cp domain.PlayerProgress
	if ok {
		cp = *p
	} else {
		cp = domain.PlayerProgress{SeasonID: key.season, PlayerID: key.player}
	}
	cp.ClaimedRewards = []string{}
	for _, c := range m.claims {
		if c.SeasonID == key.season && c.PlayerID == key.player {
			cp.ClaimedRewards = append(cp.ClaimedRewards, c.RewardID)
		}
	}
	return &cp
}

func (m *memSeasons) GetProgress(_ context.Context, seasonID, playerID int64) (*domain.PlayerProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressCopy(progressKey{seasonID, playerID}), nil
}

func claimKey(playerID int64, rewardID string) string {
	return fmt.Sprintf("%d/%s", playerID, rewardID)
}

func (m *memSeasons) RecordClaim(_ context.Context, c *domain.RewardClaim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openSeason(c.SeasonID, c.ClaimedAt); err != nil {
		return false, err
	}
	k := claimKey(c.PlayerID, c.RewardID)
	if _, ok := m.claims[k]; ok {
		return false, nil
	}
	m.claims[k] = *c
	return true, nil
}

func (m *memSeasons) DeleteClaim(_ context.Context, playerID int64, rewardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, claimKey(playerID, rewardID))
	return nil
}

func (m *memSeasons) Top(_ context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ranking(seasonID, limit), nil
}

func (m *memSeasons) ranking(seasonID int64, limit int) []domain.LeaderboardEntry {
	var rows []*domain.PlayerProgress
	for k, p := range m.progress {
		if k.season == seasonID {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		if !a.LastLevelUpAt.Equal(b.LastLevelUpAt) {
			return a.LastLevelUpAt.Before(b.LastLevelUpAt)
		}
		return a.PlayerID < b.PlayerID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, p := range rows {
		out = append(out, domain.LeaderboardEntry{
			Position:      i + 1,
			PlayerID:      p.PlayerID,
			XP:            p.XP,
			Level:         p.Level(),
			Rank:          p.Rank(),
			LastLevelUpAt: p.LastLevelUpAt,
		})
	}
	return out
}

func (m *memSeasons) PlayerPosition(ctx context.Context, seasonID, playerID int64) (int, error) {
	all, err := m.Top(ctx, seasonID, 0)
	if err != nil {
		return 0, err
	}
	for _, e := range all {
		if e.PlayerID == playerID {
			return e.Position, nil
		}
	}
	return 0, nil
}

func (m *memSeasons) Snapshot(_ context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshots[seasonID]
	if limit > 0 && len(snap) > limit {
		snap = snap[:limit]
	}
	return append([]domain.LeaderboardEntry(nil), snap...), nil
}

type capture struct {
	Charge
	at        time.Time
	reference string
}

type fakePayments struct {
	mu       sync.Mutex
	now      func() time.Time
	decline  bool
	used     map[string]bool
	captured []capture
	// gate, when set, holds every Capture until the whole group has arrived
	gate *sync.WaitGroup
}

func (f *fakePayments) Capture(_ context.Context, c Charge) (Receipt, error) {
	if f.gate != nil {
		f.gate.Done()
		f.gate.Wait()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used == nil {
		f.used = map[string]bool{}
	}
	if f.decline || c.Authorization == "" || f.used[c.Authorization] {
		return Receipt{}, fmt.Errorf("%w: authorization %q", ErrPaymentDeclined, c.Authorization)
	}
	f.used[c.Authorization] = true
	at := time.Now()
	if f.now != nil {
		at = f.now()
	}
	ref := "ref-" + c.Authorization
	f.captured = append(f.captured, capture{Charge: c, at: at, reference: ref})
	return Receipt{Reference: ref, Amount: c.Amount}, nil
}

func (f *fakePayments) snapshot() []capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture(nil), f.captured...)
}

type fakeBalance struct {
	mu       sync.Mutex
	balances map[int64]int64
	err      error
}

func (f *fakeBalance) Credit(_ context.Context, userID, amount int64, _ string, _ map[string]interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.balances == nil {
		f.balances = map[int64]int64{}
	}
	f.balances[userID] += amount
	return f.balances[userID], nil
}

func (f *fakeBalance) get(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

type recordedEvent struct {
	userID int64
	event  string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Notify(userID int64, event string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{userID, event})
}

func (f *fakeNotifier) has(userID int64, event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.userID == userID && e.event == event {
			return true
		}
	}
	return false
}

type stubEnricher struct {
	signal *domain.Signal
	err    error
}

func (s stubEnricher) Lookup(context.Context, string) (*domain.Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	sig := *s.signal
	return &sig, nil
}

var errStoreDown = errors.New("store unavailable")

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *testClock
	packs     *memPacks
	cards     *memCards
	purchases *memPurchases
	seasons   *memSeasons
	payments  *fakePayments
	balance   *fakeBalance
	notifier  *fakeNotifier

	packSvc     *PackService
	seasonSvc   *SeasonService
	purchaseSvc *PurchaseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    newTestClock(),
		packs:    newMemPacks(),
		cards:    &memCards{},
		seasons:  newMemSeasons(),
		payments: &fakePayments{},
		balance:  &fakeBalance{},
		notifier: &fakeNotifier{},
	}
	h.payments.now = h.clock.Now
	h.purchases = newMemPurchases(h.cards, h.payments)

	h.packSvc = NewPackService(h.packs, stubEnricher{signal: &domain.Signal{Popularity: 50}}, NewLimitLedger(DefaultPublishCooldown), 100000)
	h.packSvc.now = h.clock.Now
	h.packSvc.SetNotifier(h.notifier)

	granter := NewCatalogGranter(h.balance, h.cards)
	granter.now = h.clock.Now
	h.seasonSvc = NewSeasonService(h.seasons, granter, SeasonOptions{BonusTopN: 2})
	h.seasonSvc.now = h.clock.Now
	h.seasonSvc.SetNotifier(h.notifier)

	h.purchaseSvc = NewPurchaseService(h.packs, h.purchases, h.cards, h.payments, h.seasonSvc, h.balance, PurchaseOptions{
		CreatorSharePct: DefaultCreatorSharePct,
		MaxAttempts:     5,
	})
	h.purchaseSvc.now = h.clock.Now
	h.purchaseSvc.SetNotifier(h.notifier)

	if _, err := h.seasonSvc.EnsureActiveSeason(h.ctx); err != nil {
		t.Fatalf("start season: %v", err)
	}
	return h
}

func sourceURL(i int) string {
	return fmt.Sprintf("https://open.spotify.com/artist/%022d", i)
}

func descriptor(i int) domain.CardDescriptor {
	return domain.CardDescriptor{
		ArtistName: fmt.Sprintf("Artist %d", i),
		TrackTitle: fmt.Sprintf("Track %d", i),
		SourceURL:  sourceURL(i),
		Signal:     &domain.Signal{Popularity: 40 + i%20, Followers: 250000},
	}
}

// draftWithCards creates a draft of tier and fills it with n distinct cards
// starting at artist offset.
func (h *harness) draftWithCards(creatorID int64, tier domain.PackTier, n, offset int) *domain.CreatorPack {
	h.t.Helper()
	p, err := h.packSvc.CreateDraft(h.ctx, creatorID, tier, "Pack", 500)
	if err != nil {
		h.t.Fatalf("create draft: %v", err)
	}
	for i := 0; i < n; i++ {
		p, err = h.packSvc.AddCard(h.ctx, creatorID, p.ID, descriptor(offset+i))
		if err != nil {
			h.t.Fatalf("add card %d: %v", i, err)
		}
	}
	return p
}

// livePack creates and publishes a full pack of tier
func (h *harness) livePack(creatorID int64, tier domain.PackTier, offset int) *domain.CreatorPack {
	h.t.Helper()
	n := map[domain.PackTier]int{domain.PackTierMicro: 5, domain.PackTierMini: 10, domain.PackTierEvent: 15}[tier]
	p := h.draftWithCards(creatorID, tier, n, offset)
	live, err := h.packSvc.Publish(h.ctx, creatorID, p.ID)
	if err != nil {
		h.t.Fatalf("publish: %v", err)
	}
	return live
}

func (h *harness) xp(playerID int64) int64 {
	h.t.Helper()
	view, err := h.seasonSvc.Progress(h.ctx, playerID)
	if err != nil {
		h.t.Fatalf("progress: %v", err)
	}
	return view.XP
}
