// Package leaderboard keeps a live season ranking in a Redis sorted set.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"packmarket/internal/domain"

	redis "github.com/redis/go-redis/v9"
)

const (
	// timeSlots bounds seconds-since-season-start inside one xp step.
	timeSlots = 10_000_000
	// keepAfterEnd is how long a finished season's set survives in Redis.
	keepAfterEnd = 7 * 24 * time.Hour
)

// Index is a sorted-set leaderboard. Order matches the database:
// xp desc, earlier level-up first, lower player id first.
type Index struct {
	rdb *redis.Client
}

func NewIndex(rdb *redis.Client) *Index {
	return &Index{rdb: rdb}
}

func key(seasonID int64) string {
	return fmt.Sprintf("leaderboard:season:%d", seasonID)
}

// Score packs xp and level-up time into one float. Earlier level-ups score higher.
func Score(season *domain.Season, p *domain.PlayerProgress) float64 {
	secs := int64(p.LastLevelUpAt.Sub(season.StartAt) / time.Second)
	if secs < 0 {
		secs = 0
	}
	if secs >= timeSlots {
		secs = timeSlots - 1
	}
	return float64(p.XP)*timeSlots + float64(timeSlots-1-secs)
}

// decodeScore is the inverse of Score at one-second resolution.
func decodeScore(season *domain.Season, score float64) (xp int64, levelUpAt time.Time) {
	s := int64(score)
	xp = s / timeSlots
	secs := timeSlots - 1 - s%timeSlots
	return xp, season.StartAt.Add(time.Duration(secs) * time.Second)
}

// Equal scores are ordered by member in reverse, so members encode the
// player id inverted to keep lower ids first.
func member(playerID int64) string {
	return fmt.Sprintf("%019d", math.MaxInt64-playerID)
}

func playerFromMember(m string) (int64, error) {
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad leaderboard member %q: %w", m, err)
	}
	return math.MaxInt64 - n, nil
}

// Record stores the player's current standing. XP never decreases and Score
// grows with XP, so ZADD GT keeps a late write of an older standing from
// replacing a newer one.
func (i *Index) Record(ctx context.Context, season *domain.Season, p *domain.PlayerProgress) error {
	k := key(season.ID)
	pipe := i.rdb.Pipeline()
	pipe.ZAddGT(ctx, k, redis.Z{Score: Score(season, p), Member: member(p.PlayerID)})
	pipe.ExpireAt(ctx, k, season.EndAt.Add(keepAfterEnd))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record leaderboard entry: %w", err)
	}
	return nil
}

// Top returns the first n entries
func (i *Index) Top(ctx context.Context, season *domain.Season, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	rows, err := i.rdb.ZRevRangeWithScores(ctx, key(season.ID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get top players: %w", err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for pos, z := range rows {
		m, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("bad leaderboard member %v", z.Member)
		}
		playerID, err := playerFromMember(m)
		if err != nil {
			return nil, err
		}
		xp, at := decodeScore(season, z.Score)
		out = append(out, domain.LeaderboardEntry{
			Position:      pos + 1,
			PlayerID:      playerID,
			XP:            xp,
			Level:         domain.LevelForXP(xp),
			Rank:          domain.RankForXP(xp),
			LastLevelUpAt: at,
		})
	}
	return out, nil
}

// Position returns the 1-based rank of the player, 0 if absent
func (i *Index) Position(ctx context.Context, season *domain.Season, playerID int64) (int, error) {
	rank, err := i.rdb.ZRevRank(ctx, key(season.ID), member(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get player rank: %w", err)
	}
	return int(rank) + 1, nil
}
