package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// XPPerLevel - сколько XP нужно на каждый уровень
const XPPerLevel = 100

// PlayerRank - ранг сезона, выводится из накопленного XP
type PlayerRank string

const (
	RankBronze   PlayerRank = "bronze"
	RankSilver   PlayerRank = "silver"
	RankGold     PlayerRank = "gold"
	RankPlatinum PlayerRank = "platinum"
	RankDiamond  PlayerRank = "diamond"
)

// rankThresholds is ordered from the highest rank down.
var rankThresholds = []struct {
	minXP int64
	rank  PlayerRank
}{
	{10000, RankDiamond},
	{5000, RankPlatinum},
	{2000, RankGold},
	{500, RankSilver},
	{0, RankBronze},
}

// LevelForXP is a pure function of cumulative XP.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/XPPerLevel) + 1
}

// RankForXP is a pure function of cumulative XP.
func RankForXP(xp int64) PlayerRank {
	for _, t := range rankThresholds {
		if xp >= t.minXP {
			return t.rank
		}
	}
	return RankBronze
}

// XPEventKind - событие, за которое начисляется XP
type XPEventKind string

const (
	XPEventPackOpened        XPEventKind = "pack_opened"
	XPEventBattleWon         XPEventKind = "battle_won"
	XPEventTradeCompleted    XPEventKind = "trade_completed"
	XPEventUniqueArtistBonus XPEventKind = "unique_artist_bonus"
	XPEventDailyClaim        XPEventKind = "daily_claim"
)

// Fixed XP values per event. Daily claim is variable.
const (
	XPPerCardOpened     = 10
	XPBattleWon         = 25
	XPTradeCompleted    = 15
	XPUniqueArtistBonus = 50
)

// XPEvent - одно начисление. Count multiplies fixed-value events (cards opened, new artists).
type XPEvent struct {
	Kind   XPEventKind `json:"kind"`
	Count  int         `json:"count,omitempty"`
	Amount int64       `json:"amount,omitempty"` // daily claim only
}

// XP returns the XP value of the event.
func (e XPEvent) XP() (int64, error) {
	n := int64(e.Count)
	if n <= 0 {
		n = 1
	}
	switch e.Kind {
	case XPEventPackOpened:
		return XPPerCardOpened * n, nil
	case XPEventBattleWon:
		return XPBattleWon * n, nil
	case XPEventTradeCompleted:
		return XPTradeCompleted * n, nil
	case XPEventUniqueArtistBonus:
		return XPUniqueArtistBonus * n, nil
	case XPEventDailyClaim:
		if e.Amount <= 0 {
			return 0, fmt.Errorf("daily claim amount must be positive, got %d", e.Amount)
		}
		return e.Amount, nil
	}
	return 0, fmt.Errorf("unknown xp event kind %q", e.Kind)
}

// ProgressDelta - аддитивное изменение прогресса, применяется атомарно
type ProgressDelta struct {
	XP            int64
	CardsOpened   int64
	UniqueArtists int64
	BattlesWon    int64
	Trades        int64
	// Set only by the daily claim; nil leaves the stored streak untouched.
	DailyClaimAt *time.Time
	DailyStreak  int
}

// DeltaFor folds a batch of events into one additive delta.
func DeltaFor(events []XPEvent) (ProgressDelta, error) {
	var d ProgressDelta
	for _, e := range events {
		xp, err := e.XP()
		if err != nil {
			return ProgressDelta{}, err
		}
		d.XP += xp
		n := int64(e.Count)
		if n <= 0 {
			n = 1
		}
		switch e.Kind {
		case XPEventPackOpened:
			d.CardsOpened += n
		case XPEventUniqueArtistBonus:
			d.UniqueArtists += n
		case XPEventBattleWon:
			d.BattlesWon += n
		case XPEventTradeCompleted:
			d.Trades += n
		}
	}
	return d, nil
}

// PlayerProgress - прогресс игрока в сезоне. Level и Rank не хранятся, а вычисляются.
type PlayerProgress struct {
	SeasonID       int64      `db:"season_id" json:"season_id"`
	PlayerID       int64      `db:"player_id" json:"player_id"`
	XP             int64      `db:"xp" json:"xp"`
	ClaimedRewards []string   `db:"-" json:"claimed_reward_ids"`
	CardsOpened    int64      `db:"cards_opened" json:"cards_opened"`
	UniqueArtists  int64      `db:"unique_artists" json:"unique_artists"`
	BattlesWon     int64      `db:"battles_won" json:"battles_won"`
	Trades         int64      `db:"trades" json:"trades"`
	DailyStreak    int        `db:"daily_streak" json:"daily_streak"`
	LastDailyClaim *time.Time `db:"last_daily_claim_at" json:"last_daily_claim_at,omitempty"`
	LastLevelUpAt  time.Time  `db:"last_level_up_at" json:"last_level_up_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Level is derived from XP on every read.
func (p *PlayerProgress) Level() int { return LevelForXP(p.XP) }

// Rank is derived from XP on every read.
func (p *PlayerProgress) Rank() PlayerRank { return RankForXP(p.XP) }

// HasClaimed reports whether rewardID is already in the claimed set.
func (p *PlayerProgress) HasClaimed(rewardID string) bool {
	for _, id := range p.ClaimedRewards {
		if id == rewardID {
			return true
		}
	}
	return false
}

// ProgressView - ответ для /season_progress
type ProgressView struct {
	PlayerProgress
	Level       int        `json:"level"`
	Rank        PlayerRank `json:"rank"`
	NextLevelXP int64      `json:"next_level_xp"`
}

// View attaches the derived fields.
func (p *PlayerProgress) View() ProgressView {
	lvl := p.Level()
	return ProgressView{
		PlayerProgress: *p,
		Level:          lvl,
		Rank:           p.Rank(),
		NextLevelXP:    int64(lvl) * XPPerLevel,
	}
}

// Season - 60-дневный соревновательный цикл
type Season struct {
	ID       int64      `db:"id" json:"id"`
	Theme    string     `db:"theme" json:"theme"`
	StartAt  time.Time  `db:"start_at" json:"start_at"`
	EndAt    time.Time  `db:"end_at" json:"end_at"`
	Rewards  []Reward   `db:"rewards" json:"rewards"`
	ClosedAt *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// ActiveAt reports whether claims and XP are accepted at t.
func (s *Season) ActiveAt(t time.Time) bool {
	if s.ClosedAt != nil {
		return false
	}
	return !t.Before(s.StartAt) && t.Before(s.EndAt)
}

// Reward looks up a catalog entry by id.
func (s *Season) Reward(id string) (Reward, bool) {
	for _, r := range s.Rewards {
		if r.ID == id {
			return r, true
		}
	}
	return Reward{}, false
}

// SeasonSummary - ответ для season-info
type SeasonSummary struct {
	ID            int64     `json:"id"`
	Theme         string    `json:"theme"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	DaysRemaining int       `json:"days_remaining"`
	Rewards       []Reward  `json:"rewards"`
}

// Summary builds the season-info view at now.
func (s *Season) Summary(now time.Time) SeasonSummary {
	days := 0
	if left := s.EndAt.Sub(now); left > 0 {
		days = int((left + 24*time.Hour - 1) / (24 * time.Hour))
	}
	return SeasonSummary{
		ID:            s.ID,
		Theme:         s.Theme,
		StartAt:       s.StartAt,
		EndAt:         s.EndAt,
		DaysRemaining: days,
		Rewards:       s.Rewards,
	}
}

// LeaderboardEntry - строка лидерборда (живого или замороженного)
type LeaderboardEntry struct {
	Position      int        `json:"position"`
	PlayerID      int64      `json:"player_id"`
	XP            int64      `json:"xp"`
	Level         int        `json:"level"`
	Rank          PlayerRank `json:"rank"`
	LastLevelUpAt time.Time  `json:"last_level_up_at"`
	BonusEligible bool       `json:"bonus_eligible,omitempty"`
}

// RewardKind - тип награды сезона
type RewardKind string

const (
	RewardKindCurrency RewardKind = "currency"
	RewardKindCard     RewardKind = "card"
	RewardKindCosmetic RewardKind = "cosmetic"
	RewardKindTitle    RewardKind = "title"
)

// RewardPayload is implemented only by the four payload types below.
type RewardPayload interface {
	Kind() RewardKind
}

type CurrencyReward struct {
	Amount int64 `json:"amount"`
}

type CardGrantReward struct {
	ArtistName string `json:"artist_name"`
	TrackTitle string `json:"track_title,omitempty"`
	SourceURL  string `json:"source_url"`
	Rarity     Rarity `json:"rarity"`
	Stats      Stats  `json:"stats"`
}

type CosmeticReward struct {
	CosmeticID string `json:"cosmetic_id"`
}

type TitleReward struct {
	TitleID string `json:"title_id"`
}

func (CurrencyReward) Kind() RewardKind  { return RewardKindCurrency }
func (CardGrantReward) Kind() RewardKind { return RewardKindCard }
func (CosmeticReward) Kind() RewardKind  { return RewardKindCosmetic }
func (TitleReward) Kind() RewardKind     { return RewardKindTitle }

// Reward - элемент каталога наград сезона
type Reward struct {
	ID          string        `json:"id"`
	UnlockLevel int           `json:"unlock_level"`
	Title       string        `json:"title"`
	Payload     RewardPayload `json:"-"`
}

type rewardJSON struct {
	ID          string          `json:"id"`
	UnlockLevel int             `json:"unlock_level"`
	Title       string          `json:"title"`
	Kind        RewardKind      `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

func (r Reward) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("reward %s has no payload", r.ID)
	}
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rewardJSON{
		ID:          r.ID,
		UnlockLevel: r.UnlockLevel,
		Title:       r.Title,
		Kind:        r.Payload.Kind(),
		Payload:     raw,
	})
}

func (r *Reward) UnmarshalJSON(b []byte) error {
	var rj rewardJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return err
	}
	var payload RewardPayload
	switch rj.Kind {
	case RewardKindCurrency:
		var p CurrencyReward
		if err := json.Unmarshal(rj.Payload, &p); err != nil {
			return err
		}
		payload = p
	case RewardKindCard:
		var p CardGrantReward
		if err := json.Unmarshal(rj.Payload, &p); err != nil {
			return err
		}
		payload = p
	case RewardKindCosmetic:
		var p CosmeticReward
		if err := json.Unmarshal(rj.Payload, &p); err != nil {
			return err
		}
		payload = p
	case RewardKindTitle:
		var p TitleReward
		if err := json.Unmarshal(rj.Payload, &p); err != nil {
			return err
		}
		payload = p
	default:
		return fmt.Errorf("unknown reward kind %q", rj.Kind)
	}
	*r = Reward{ID: rj.ID, UnlockLevel: rj.UnlockLevel, Title: rj.Title, Payload: payload}
	return nil
}

// RewardClaim - факт получения награды (player_id, reward_id) уникален
type RewardClaim struct {
	SeasonID  int64     `db:"season_id" json:"season_id"`
	PlayerID  int64     `db:"player_id" json:"player_id"`
	RewardID  string    `db:"reward_id" json:"reward_id"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at"`
}

// PlayerItem - косметика или титул, выданные наградой
type PlayerItem struct {
	ID        int64      `db:"id" json:"id"`
	PlayerID  int64      `db:"player_id" json:"player_id"`
	Kind      RewardKind `db:"kind" json:"kind"`
	ItemID    string     `db:"item_id" json:"item_id"`
	SeasonID  int64      `db:"season_id" json:"season_id"`
	GrantedAt time.Time  `db:"granted_at" json:"granted_at"`
}
