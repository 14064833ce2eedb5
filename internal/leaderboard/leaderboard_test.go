package leaderboard

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"packmarket/internal/domain"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func testSeason() *domain.Season {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Season{ID: 1, StartAt: start, EndAt: start.Add(60 * 24 * time.Hour)}
}

func TestScoreRoundTrip(t *testing.T) {
	s := testSeason()
	at := s.StartAt.Add(17*24*time.Hour + 3*time.Second)
	p := &domain.PlayerProgress{PlayerID: 4, XP: 123456, LastLevelUpAt: at}

	xp, gotAt := decodeScore(s, Score(s, p))
	if xp != p.XP || !gotAt.Equal(at) {
		t.Fatalf("decoded %d at %v, want %d at %v", xp, gotAt, p.XP, at)
	}
}

func TestScoreOrdering(t *testing.T) {
	s := testSeason()
	early := &domain.PlayerProgress{XP: 500, LastLevelUpAt: s.StartAt.Add(time.Hour)}
	late := &domain.PlayerProgress{XP: 500, LastLevelUpAt: s.StartAt.Add(2 * time.Hour)}
	more := &domain.PlayerProgress{XP: 501, LastLevelUpAt: s.EndAt}

	if !(Score(s, more) > Score(s, early) && Score(s, early) > Score(s, late)) {
		t.Fatalf("scores out of order: more=%f early=%f late=%f", Score(s, more), Score(s, early), Score(s, late))
	}
}

func TestMemberOrderFavoursLowerIDs(t *testing.T) {
	ids := []int64{3, 12, 1, 250}
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = member(id)
	}
	// equal scores come back in reverse lexical order
	sort.Sort(sort.Reverse(sort.StringSlice(members)))
	want := []int64{1, 3, 12, 250}
	for i, m := range members {
		id, err := playerFromMember(m)
		if err != nil {
			t.Fatalf("decode %q: %v", m, err)
		}
		if id != want[i] {
			t.Fatalf("position %d = %d, want %d", i, id, want[i])
		}
	}
}

// Integration-style test: runs only if REDIS_ADDR env is set.
func TestIndexRedisIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	defer rdb.Close()
	ctx := context.Background()

	s := testSeason()
	s.ID = time.Now().UnixNano()
	defer rdb.Del(ctx, key(s.ID))

	idx := NewIndex(rdb)
	rows := []*domain.PlayerProgress{
		{PlayerID: 5, XP: 100, LastLevelUpAt: s.StartAt.Add(time.Minute)},
		{PlayerID: 3, XP: 100, LastLevelUpAt: s.StartAt.Add(time.Minute)},
		{PlayerID: 1, XP: 100, LastLevelUpAt: s.StartAt.Add(time.Hour)},
		{PlayerID: 9, XP: 200, LastLevelUpAt: s.StartAt.Add(2 * time.Hour)},
	}
	for _, p := range rows {
		if err := idx.Record(ctx, s, p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	top, err := idx.Top(ctx, s, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	want := []int64{9, 3, 5, 1}
	if len(top) != len(want) {
		t.Fatalf("top = %+v", top)
	}
	for i, id := range want {
		if top[i].PlayerID != id {
			t.Fatalf("position %d = %d, want %d", i+1, top[i].PlayerID, id)
		}
	}

	if pos, err := idx.Position(ctx, s, 1); err != nil || pos != 4 {
		t.Fatalf("position = %d, %v", pos, err)
	}
	if pos, err := idx.Position(ctx, s, 77); err != nil || pos != 0 {
		t.Fatalf("absent position = %d, %v", pos, err)
	}

	// a stale standing arriving late does not lower the score
	if err := idx.Record(ctx, s, &domain.PlayerProgress{PlayerID: 9, XP: 50, LastLevelUpAt: s.StartAt}); err != nil {
		t.Fatalf("record stale: %v", err)
	}
	if top, _ := idx.Top(ctx, s, 1); len(top) != 1 || top[0].PlayerID != 9 || top[0].XP != 200 {
		t.Fatalf("top after stale record = %+v", top)
	}
}

func TestRecordKeepsHigherStanding(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	s := testSeason()
	idx := NewIndex(rdb)
	newer := &domain.PlayerProgress{PlayerID: 7, XP: 135, LastLevelUpAt: s.StartAt.Add(3 * time.Hour)}
	older := &domain.PlayerProgress{PlayerID: 7, XP: 110, LastLevelUpAt: s.StartAt.Add(3 * time.Hour)}

	// awards committed newer-last in the database but reached redis out of order
	for _, p := range []*domain.PlayerProgress{newer, older} {
		if err := idx.Record(ctx, s, p); err != nil {
			t.Fatalf("record xp=%d: %v", p.XP, err)
		}
	}

	top, err := idx.Top(ctx, s, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 1 || top[0].XP != 135 {
		t.Fatalf("top = %+v, want xp 135", top)
	}

	// a real increase still moves the score
	newer.XP = 160
	if err := idx.Record(ctx, s, newer); err != nil {
		t.Fatalf("record: %v", err)
	}
	if top, _ := idx.Top(ctx, s, 1); len(top) != 1 || top[0].XP != 160 {
		t.Fatalf("top after increase = %+v", top)
	}
}
