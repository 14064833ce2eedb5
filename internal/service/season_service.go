package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/logger"
	"packmarket/internal/metrics"
	"packmarket/internal/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const (
	DefaultSeasonLength    = 60 * 24 * time.Hour
	DefaultLeaderboardTopN = 100
	DefaultBonusTopN       = 10

	dailyBaseXP        = 20
	dailyStreakXP      = 5
	dailyMaxXP         = 50
	dailyDateLayout    = "2006-01-02"
	maxLeaderboardTopN = 1000
)

var seasonThemes = []string{
	"Neon Nights",
	"Bass Drop",
	"Golden Era",
	"Underground",
	"Festival Fever",
	"Midnight Sessions",
}

// RewardGranter delivers a reward payload to a player
type RewardGranter interface {
	Grant(ctx context.Context, playerID int64, season *domain.Season, r domain.Reward) error
}

type SeasonOptions struct {
	Length    time.Duration
	TopN      int
	BonusTopN int
}

// SeasonService is the only writer of season progress.
type SeasonService struct {
	seasons  SeasonStore
	granter  RewardGranter
	index    LeaderboardIndex
	audit    Auditor
	notifier Notifier
	opts     SeasonOptions
	now      func() time.Time
	log      *slog.Logger
}

func NewSeasonService(seasons SeasonStore, granter RewardGranter, opts SeasonOptions) *SeasonService {
	if opts.Length <= 0 {
		opts.Length = DefaultSeasonLength
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultLeaderboardTopN
	}
	if opts.BonusTopN <= 0 {
		opts.BonusTopN = DefaultBonusTopN
	}
	return &SeasonService{
		seasons:  seasons,
		granter:  granter,
		audit:    nopAuditor{},
		notifier: nopNotifier{},
		opts:     opts,
		now:      time.Now,
		log:      logger.Component("seasons"),
	}
}

// SetIndex attaches the ordered leaderboard index. Without it reads go to the database.
func (s *SeasonService) SetIndex(idx LeaderboardIndex) { s.index = idx }

func (s *SeasonService) SetAuditor(a Auditor) {
	if a != nil {
		s.audit = a
	}
}

func (s *SeasonService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// ActiveSeason returns the season currently accepting XP
func (s *SeasonService) ActiveSeason(ctx context.Context) (*domain.Season, error) {
	season, err := s.seasons.ActiveSeason(ctx, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSeason
		}
		return nil, err
	}
	return season, nil
}

// AwardXP applies events to the player's progress in the active season.
// eventKey makes the award idempotent: a repeated key changes nothing.
func (s *SeasonService) AwardXP(ctx context.Context, playerID int64, eventKey string, events ...domain.XPEvent) (*domain.PlayerProgress, error) {
	delta, err := domain.DeltaFor(events)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	progress, _, err := s.apply(ctx, playerID, eventKey, delta, events)
	return progress, err
}

func (s *SeasonService) apply(ctx context.Context, playerID int64, eventKey string, delta domain.ProgressDelta, events []domain.XPEvent) (*domain.PlayerProgress, bool, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	progress, applied, err := s.seasons.ApplyXP(ctx, season.ID, playerID, eventKey, delta, now)
	if errors.Is(err, repository.ErrSeasonClosed) {
		// the season closed after it was looked up
		return nil, false, ErrNoActiveSeason
	}
	if err != nil {
		return nil, false, err
	}
	if !applied {
		s.log.Debug("xp event already applied", "event_key", eventKey, "player_id", playerID)
		return progress, false, nil
	}

	for _, e := range events {
		if xp, err := e.XP(); err == nil {
			metrics.XPAwarded.WithLabelValues(string(e.Kind)).Add(float64(xp))
		}
	}
	if s.index != nil {
		if err := s.index.Record(ctx, season, progress); err != nil {
			s.log.Warn("leaderboard index update failed", "player_id", playerID, "season_id", season.ID, "error", err)
		}
	}
	if before := domain.LevelForXP(progress.XP - delta.XP); progress.Level() > before {
		s.notifier.Notify(playerID, "level_up", map[string]interface{}{
			"season_id": season.ID,
			"level":     progress.Level(),
			"rank":      progress.Rank(),
		})
	}
	return progress, true, nil
}

// ReportEvent records a battle win or completed trade. ref identifies the
// event in the reporting subsystem so retries are not counted twice.
func (s *SeasonService) ReportEvent(ctx context.Context, playerID int64, kind domain.XPEventKind, ref string) (*domain.PlayerProgress, error) {
	if kind != domain.XPEventBattleWon && kind != domain.XPEventTradeCompleted {
		return nil, fmt.Errorf("%w: %q cannot be reported externally", ErrInvalidEvent, kind)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = uuid.NewString()
	}
	key := fmt.Sprintf("%s:%d:%s", kind, playerID, ref)
	return s.AwardXP(ctx, playerID, key, domain.XPEvent{Kind: kind})
}

type DailyClaimResult struct {
	XP       int64                  `json:"xp"`
	Streak   int                    `json:"streak"`
	Progress *domain.PlayerProgress `json:"progress"`
}

// DailyXP returns the daily claim value for a streak (1 = first day).
func DailyXP(streak int) int64 {
	xp := int64(dailyBaseXP + dailyStreakXP*streak)
	if xp > dailyMaxXP {
		xp = dailyMaxXP
	}
	return xp
}

// ClaimDaily grants the daily XP once per UTC day. Claiming on consecutive
// days grows the streak; a missed day resets it.
func (s *SeasonService) ClaimDaily(ctx context.Context, playerID int64) (*DailyClaimResult, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.seasons.GetProgress(ctx, season.ID, playerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := now.UTC().Truncate(24 * time.Hour)
	streak := 1
	if last := current.LastDailyClaim; last != nil {
		lastDay := last.UTC().Truncate(24 * time.Hour)
		switch {
		case lastDay.Equal(today):
			return nil, ErrDailyAlreadyClaimed
		case lastDay.Equal(today.Add(-24 * time.Hour)):
			streak = current.DailyStreak + 1
		}
	}

	xp := DailyXP(streak)
	event := domain.XPEvent{Kind: domain.XPEventDailyClaim, Amount: xp}
	delta, err := domain.DeltaFor([]domain.XPEvent{event})
	if err != nil {
		return nil, err
	}
	delta.DailyClaimAt = &now
	delta.DailyStreak = streak

	key := fmt.Sprintf("daily:%d:%d:%s", season.ID, playerID, today.Format(dailyDateLayout))
	progress, applied, err := s.apply(ctx, playerID, key, delta, []domain.XPEvent{event})
	if err != nil {
		return nil, err
	}
	if !applied {
		// a concurrent claim for the same day won
		return nil, ErrDailyAlreadyClaimed
	}

	s.audit.Log(ctx, playerID, domain.AuditActionDailyClaim, domain.AuditCategorySeason, map[string]interface{}{
		"season_id": season.ID,
		"xp":        xp,
		"streak":    streak,
	})
	return &DailyClaimResult{XP: xp, Streak: streak, Progress: progress}, nil
}

// ClaimReward grants a catalog reward once per (player, reward).
// Checks run in order: season window, already claimed, unlock level.
func (s *SeasonService) ClaimReward(ctx context.Context, playerID int64, rewardID string) (*domain.Reward, error) {
	season, err := s.seasons.SeasonForReward(ctx, rewardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	reward, ok := season.Reward(rewardID)
	if !ok {
		return nil, ErrRewardNotFound
	}
	now := s.now()
	if !season.ActiveAt(now) {
		return nil, ErrSeasonEnded
	}

	progress, err := s.seasons.GetProgress(ctx, season.ID, playerID)
	if err != nil {
		return nil, err
	}
	if progress.HasClaimed(rewardID) {
		return nil, ErrAlreadyClaimed
	}
	if reward.UnlockLevel > progress.Level() {
		return nil, ErrNotUnlocked
	}

	inserted, err := s.seasons.RecordClaim(ctx, &domain.RewardClaim{
		SeasonID:  season.ID,
		PlayerID:  playerID,
		RewardID:  rewardID,
		ClaimedAt: now,
	})
	if errors.Is(err, repository.ErrSeasonClosed) {
		return nil, ErrSeasonEnded
	}
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyClaimed
	}

	if err := s.granter.Grant(ctx, playerID, season, reward); err != nil {
		if derr := s.seasons.DeleteClaim(ctx, playerID, rewardID); derr != nil {
			s.log.Error("failed to roll back reward claim", "player_id", playerID, "reward_id", rewardID, "error", derr)
		}
		return nil, fmt.Errorf("grant reward %s: %w", rewardID, err)
	}

	metrics.RewardClaims.WithLabelValues(string(reward.Payload.Kind())).Inc()
	s.audit.Log(ctx, playerID, domain.AuditActionRewardClaim, domain.AuditCategorySeason, map[string]interface{}{
		"season_id": season.ID,
		"reward_id": rewardID,
		"kind":      reward.Payload.Kind(),
	})
	s.log.Info("reward claimed", "player_id", playerID, "reward_id", rewardID, "season_id", season.ID)
	return &reward, nil
}

// Progress returns the player's view of the active season
func (s *SeasonService) Progress(ctx context.Context, playerID int64) (domain.ProgressView, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return domain.ProgressView{}, err
	}
	p, err := s.seasons.GetProgress(ctx, season.ID, playerID)
	if err != nil {
		return domain.ProgressView{}, err
	}
	return p.View(), nil
}

// Info returns the active season summary
func (s *SeasonService) Info(ctx context.Context) (domain.SeasonSummary, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return domain.SeasonSummary{}, err
	}
	return season.Summary(s.now()), nil
}

// Leaderboard returns the top players of a season. seasonID 0 means the active
// season. Closed seasons are served from their frozen snapshot.
func (s *SeasonService) Leaderboard(ctx context.Context, seasonID int64, topN int) ([]domain.LeaderboardEntry, error) {
	if topN <= 0 {
		topN = s.opts.TopN
	}
	if topN > maxLeaderboardTopN {
		topN = maxLeaderboardTopN
	}

	var (
		season *domain.Season
		err    error
	)
	if seasonID == 0 {
		season, err = s.ActiveSeason(ctx)
	} else {
		season, err = s.seasons.GetSeason(ctx, seasonID)
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrSeasonNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	if season.ClosedAt != nil {
		return s.seasons.Snapshot(ctx, season.ID, topN)
	}
	if s.index != nil {
		entries, err := s.index.Top(ctx, season, topN)
		if err == nil {
			return entries, nil
		}
		s.log.Warn("leaderboard index read failed, using database", "season_id", season.ID, "error", err)
	}
	return s.seasons.Top(ctx, season.ID, topN)
}

// Position returns the player's 1-based live position, 0 if unranked
func (s *SeasonService) Position(ctx context.Context, playerID int64) (int, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return 0, err
	}
	if s.index != nil {
		pos, err := s.index.Position(ctx, season, playerID)
		if err == nil {
			return pos, nil
		}
		s.log.Warn("leaderboard index rank failed, using database", "season_id", season.ID, "error", err)
	}
	return s.seasons.PlayerPosition(ctx, season.ID, playerID)
}

// EndSeason freezes the leaderboard, flags the top players for bonus rewards
// and closes the season. Minted cards are untouched.
func (s *SeasonService) EndSeason(ctx context.Context, seasonID int64) error {
	entries, closed, err := s.seasons.CloseSeason(ctx, seasonID, s.now(), s.opts.BonusTopN)
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}

	s.audit.Log(ctx, 0, domain.AuditActionSeasonEnd, domain.AuditCategorySeason, map[string]interface{}{
		"season_id": seasonID,
		"players":   len(entries),
	})
	s.log.Info("season ended", "season_id", seasonID, "players", len(entries))
	return nil
}

// Rollover ends every season past its end and makes sure a new one is running.
func (s *SeasonService) Rollover(ctx context.Context) (*domain.Season, error) {
	due, err := s.seasons.DueSeasons(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, season := range due {
		if err := s.EndSeason(ctx, season.ID); err != nil {
			return nil, fmt.Errorf("end season %d: %w", season.ID, err)
		}
	}
	return s.EnsureActiveSeason(ctx)
}

// ForceEnd ends the active season now and starts the next one
func (s *SeasonService) ForceEnd(ctx context.Context) (*domain.Season, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.EndSeason(ctx, season.ID); err != nil {
		return nil, err
	}
	return s.EnsureActiveSeason(ctx)
}

// EnsureActiveSeason starts the next season if none is active
func (s *SeasonService) EnsureActiveSeason(ctx context.Context) (*domain.Season, error) {
	season, err := s.ActiveSeason(ctx)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, ErrNoActiveSeason) {
		return nil, err
	}

	theme := seasonThemes[0]
	prev, err := s.seasons.LatestSeason(ctx)
	switch {
	case err == nil:
		theme = NextTheme(prev.Theme)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	start := s.now().UTC()
	next := &domain.Season{
		Theme:   theme,
		StartAt: start,
		EndAt:   start.Add(s.opts.Length),
		Rewards: RewardCatalog(theme, start),
	}
	if err := s.seasons.CreateSeason(ctx, next); err != nil {
		return nil, err
	}
	s.log.Info("season started", "season_id", next.ID, "theme", theme, "end_at", next.EndAt)
	return next, nil
}

// NextTheme rotates through the theme list
func NextTheme(prev string) string {
	for i, t := range seasonThemes {
		if t == prev {
			return seasonThemes[(i+1)%len(seasonThemes)]
		}
	}
	return seasonThemes[0]
}

// RewardCatalog builds the reward ladder of a season. Ids embed the theme and
// start date so they are unique across seasons.
func RewardCatalog(theme string, start time.Time) []domain.Reward {
	key := slug.Make(theme)
	prefix := key + "-" + start.UTC().Format("20060102")
	id := func(level int) string { return fmt.Sprintf("%s-l%02d", prefix, level) }

	return []domain.Reward{
		{ID: id(2), UnlockLevel: 2, Title: "Starter gems", Payload: domain.CurrencyReward{Amount: 100}},
		{ID: id(5), UnlockLevel: 5, Title: theme + " card frame", Payload: domain.CosmeticReward{CosmeticID: "frame-" + key}},
		{ID: id(10), UnlockLevel: 10, Title: theme + " headliner", Payload: domain.CardGrantReward{
			ArtistName: theme + " Headliner",
			Rarity:     domain.RarityEpic,
			Stats:      domain.Stats{Power: 80, Flow: 78, Hype: 82, Presence: 79},
		}},
		{ID: id(15), UnlockLevel: 15, Title: "Gem cache", Payload: domain.CurrencyReward{Amount: 500}},
		{ID: id(20), UnlockLevel: 20, Title: theme + " regular", Payload: domain.TitleReward{TitleID: key + "-regular"}},
		{ID: id(30), UnlockLevel: 30, Title: theme + " backdrop", Payload: domain.CosmeticReward{CosmeticID: "backdrop-" + key}},
		{ID: id(40), UnlockLevel: 40, Title: "Gem vault", Payload: domain.CurrencyReward{Amount: 1500}},
		{ID: id(50), UnlockLevel: 50, Title: theme + " legend", Payload: domain.TitleReward{TitleID: key + "-legend"}},
	}
}
