package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"packmarket/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SeasonRepository struct {
	db *pgxpool.Pool
}

func NewSeasonRepository(db *pgxpool.Pool) *SeasonRepository {
	return &SeasonRepository{db: db}
}

const seasonColumns = `id, theme, start_at, end_at, rewards, closed_at`

func (r *SeasonRepository) CreateSeason(ctx context.Context, s *domain.Season) error {
	rewardsJSON, err := json.Marshal(s.Rewards)
	if err != nil {
		return err
	}
	return r.db.QueryRow(ctx,
		`INSERT INTO seasons (theme, start_at, end_at, rewards)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		s.Theme, s.StartAt, s.EndAt, rewardsJSON,
	).Scan(&s.ID)
}

// ActiveSeason returns the open season whose window contains now
func (r *SeasonRepository) ActiveSeason(ctx context.Context, now time.Time) (*domain.Season, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+seasonColumns+`
		 FROM seasons
		 WHERE closed_at IS NULL AND start_at <= $1 AND end_at > $1
		 ORDER BY start_at DESC
		 LIMIT 1`,
		now,
	)
	return scanSeason(row)
}

// LatestSeason returns the most recently started season, open or not
func (r *SeasonRepository) LatestSeason(ctx context.Context) (*domain.Season, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+seasonColumns+` FROM seasons ORDER BY start_at DESC, id DESC LIMIT 1`,
	)
	return scanSeason(row)
}

func (r *SeasonRepository) GetSeason(ctx context.Context, id int64) (*domain.Season, error) {
	row := r.db.QueryRow(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id)
	return scanSeason(row)
}

// SeasonForReward finds the season whose catalog holds rewardID
func (r *SeasonRepository) SeasonForReward(ctx context.Context, rewardID string) (*domain.Season, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+seasonColumns+`
		 FROM seasons
		 WHERE rewards @> jsonb_build_array(jsonb_build_object('id', $1::text))
		 ORDER BY start_at DESC
		 LIMIT 1`,
		rewardID,
	)
	return scanSeason(row)
}

// DueSeasons returns open seasons whose end has passed
func (r *SeasonRepository) DueSeasons(ctx context.Context, now time.Time) ([]*domain.Season, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+seasonColumns+`
		 FROM seasons
		 WHERE closed_at IS NULL AND end_at <= $1
		 ORDER BY end_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ErrSeasonClosed is returned when a write targets a season that is closed or past its end
var ErrSeasonClosed = errors.New("season closed")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// lockOpenSeason takes a share lock on the season row so CloseSeason waits
// for in-flight writes, and rejects writes to a closed or expired season.
func lockOpenSeason(ctx context.Context, tx pgx.Tx, seasonID int64, at time.Time) error {
	var (
		closedAt *time.Time
		endAt    time.Time
	)
	err := tx.QueryRow(ctx,
		`SELECT closed_at, end_at FROM seasons WHERE id = $1 FOR SHARE`,
		seasonID,
	).Scan(&closedAt, &endAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if closedAt != nil || !at.Before(endAt) {
		return ErrSeasonClosed
	}
	return nil
}

// CloseSeason marks the season closed and freezes the leaderboard in the same
// transaction; the first bonusTopN positions are flagged for bonus rewards.
// Returns false if the season was already closed.
func (r *SeasonRepository) CloseSeason(ctx context.Context, seasonID int64, at time.Time, bonusTopN int) ([]domain.LeaderboardEntry, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR UPDATE waits for ApplyXP / RecordClaim holding FOR SHARE
	var closedAt *time.Time
	err = tx.QueryRow(ctx, `SELECT closed_at FROM seasons WHERE id = $1 FOR UPDATE`, seasonID).Scan(&closedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if closedAt != nil {
		return nil, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE seasons SET closed_at = $2 WHERE id = $1`, seasonID, at); err != nil {
		return nil, false, err
	}

	snapshot, err := ranking(ctx, tx, seasonID, 0)
	if err != nil {
		return nil, false, fmt.Errorf("build snapshot: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range snapshot {
		e := &snapshot[i]
		e.BonusEligible = e.Position <= bonusTopN
		batch.Queue(
			`INSERT INTO leaderboard_snapshots (season_id, position, player_id, xp, last_level_up_at, bonus_eligible)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			seasonID, e.Position, e.PlayerID, e.XP, e.LastLevelUpAt, e.BonusEligible,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, false, fmt.Errorf("store snapshot: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

// ApplyXP applies delta once per eventKey. The second return value is false
// when the event was already applied; progress is returned either way.
// Returns ErrSeasonClosed once the season is closed or past its end.
func (r *SeasonRepository) ApplyXP(ctx context.Context, seasonID, playerID int64, eventKey string, delta domain.ProgressDelta, now time.Time) (*domain.PlayerProgress, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOpenSeason(ctx, tx, seasonID, now); err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO xp_events (event_key, season_id, player_id, xp)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_key) DO NOTHING`,
		eventKey, seasonID, playerID, delta.XP,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		p, err := r.GetProgress(ctx, seasonID, playerID)
		return p, false, err
	}

	var streak *int
	if delta.DailyClaimAt != nil {
		streak = &delta.DailyStreak
	}

	// additive upsert; last_level_up_at moves only when the level boundary is crossed
	var p domain.PlayerProgress
	err = tx.QueryRow(ctx,
		`INSERT INTO season_progress (season_id, player_id, xp, cards_opened, unique_artists, battles_won, trades,
			daily_streak, last_daily_claim_at, last_level_up_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, 0), $9, $10, $10)
		 ON CONFLICT (season_id, player_id) DO UPDATE SET
			xp = season_progress.xp + EXCLUDED.xp,
			cards_opened = season_progress.cards_opened + EXCLUDED.cards_opened,
			unique_artists = season_progress.unique_artists + EXCLUDED.unique_artists,
			battles_won = season_progress.battles_won + EXCLUDED.battles_won,
			trades = season_progress.trades + EXCLUDED.trades,
			daily_streak = COALESCE($8, season_progress.daily_streak),
			last_daily_claim_at = COALESCE($9, season_progress.last_daily_claim_at),
			last_level_up_at = CASE
				WHEN (season_progress.xp + EXCLUDED.xp) / $11 <> season_progress.xp / $11 THEN EXCLUDED.last_level_up_at
				ELSE season_progress.last_level_up_at
			END,
			updated_at = EXCLUDED.updated_at
		 RETURNING season_id, player_id, xp, cards_opened, unique_artists, battles_won, trades,
			daily_streak, last_daily_claim_at, last_level_up_at, updated_at`,
		seasonID, playerID, delta.XP, delta.CardsOpened, delta.UniqueArtists, delta.BattlesWon, delta.Trades,
		streak, delta.DailyClaimAt, now, int64(domain.XPPerLevel),
	).Scan(&p.SeasonID, &p.PlayerID, &p.XP, &p.CardsOpened, &p.UniqueArtists, &p.BattlesWon, &p.Trades,
		&p.DailyStreak, &p.LastDailyClaim, &p.LastLevelUpAt, &p.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	p.ClaimedRewards, err = r.claimedRewards(ctx, seasonID, playerID)
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// GetProgress returns a player's progress. Players without a row get a zero value.
func (r *SeasonRepository) GetProgress(ctx context.Context, seasonID, playerID int64) (*domain.PlayerProgress, error) {
	p := domain.PlayerProgress{SeasonID: seasonID, PlayerID: playerID}
	err := r.db.QueryRow(ctx,
		`SELECT xp, cards_opened, unique_artists, battles_won, trades, daily_streak, last_daily_claim_at,
			last_level_up_at, updated_at
		 FROM season_progress
		 WHERE season_id = $1 AND player_id = $2`,
		seasonID, playerID,
	).Scan(&p.XP, &p.CardsOpened, &p.UniqueArtists, &p.BattlesWon, &p.Trades, &p.DailyStreak,
		&p.LastDailyClaim, &p.LastLevelUpAt, &p.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	p.ClaimedRewards, err = r.claimedRewards(ctx, seasonID, playerID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SeasonRepository) claimedRewards(ctx context.Context, seasonID, playerID int64) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT reward_id FROM reward_claims WHERE season_id = $1 AND player_id = $2 ORDER BY claimed_at`,
		seasonID, playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordClaim inserts the claim row. Returns false if (player, reward) was already claimed,
// ErrSeasonClosed if the season no longer accepts claims.
func (r *SeasonRepository) RecordClaim(ctx context.Context, c *domain.RewardClaim) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOpenSeason(ctx, tx, c.SeasonID, c.ClaimedAt); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO reward_claims (season_id, player_id, reward_id, claimed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id, reward_id) DO NOTHING`,
		c.SeasonID, c.PlayerID, c.RewardID, c.ClaimedAt,
	)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteClaim undoes RecordClaim when the grant could not be delivered
func (r *SeasonRepository) DeleteClaim(ctx context.Context, playerID int64, rewardID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM reward_claims WHERE player_id = $1 AND reward_id = $2`,
		playerID, rewardID,
	)
	return err
}

// Top returns the live ranking: xp descending, earliest level-up first on ties
func (r *SeasonRepository) Top(ctx context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error) {
	return ranking(ctx, r.db, seasonID, limit)
}

func ranking(ctx context.Context, q querier, seasonID int64, limit int) ([]domain.LeaderboardEntry, error) {
	query := `SELECT player_id, xp, last_level_up_at
		 FROM season_progress
		 WHERE season_id = $1
		 ORDER BY xp DESC, last_level_up_at ASC, player_id ASC`
	args := []any{seasonID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.LeaderboardEntry{}
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.XP, &e.LastLevelUpAt); err != nil {
			return nil, err
		}
		e.Position = len(result) + 1
		e.Level = domain.LevelForXP(e.XP)
		e.Rank = domain.RankForXP(e.XP)
		result = append(result, e)
	}
	return result, rows.Err()
}

// PlayerPosition returns the 1-based live position, or 0 if the player has no progress
func (r *SeasonRepository) PlayerPosition(ctx context.Context, seasonID, playerID int64) (int, error) {
	var pos int
	err := r.db.QueryRow(ctx,
		`SELECT 1 + (
			SELECT COUNT(*) FROM season_progress o
			WHERE o.season_id = p.season_id
			  AND (o.xp > p.xp
			   OR (o.xp = p.xp AND o.last_level_up_at < p.last_level_up_at)
			   OR (o.xp = p.xp AND o.last_level_up_at = p.last_level_up_at AND o.player_id < p.player_id))
		 )
		 FROM season_progress p
		 WHERE p.season_id = $1 AND p.player_id = $2`,
		seasonID, playerID,
	).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

// Snapshot returns the frozen leaderboard of a closed season
func (r *SeasonRepository) Snapshot(ctx context.Context, seasonID int64, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT position, player_id, xp, last_level_up_at, bonus_eligible
		 FROM leaderboard_snapshots
		 WHERE season_id = $1
		 ORDER BY position ASC
		 LIMIT $2`,
		seasonID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.Position, &e.PlayerID, &e.XP, &e.LastLevelUpAt, &e.BonusEligible); err != nil {
			return nil, err
		}
		e.Level = domain.LevelForXP(e.XP)
		e.Rank = domain.RankForXP(e.XP)
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanSeason(row pgx.Row) (*domain.Season, error) {
	var (
		s           domain.Season
		rewardsJSON []byte
	)
	if err := row.Scan(&s.ID, &s.Theme, &s.StartAt, &s.EndAt, &rewardsJSON, &s.ClosedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(rewardsJSON) > 0 {
		if err := json.Unmarshal(rewardsJSON, &s.Rewards); err != nil {
			return nil, fmt.Errorf("decode rewards of season %d: %w", s.ID, err)
		}
	}
	return &s, nil
}
