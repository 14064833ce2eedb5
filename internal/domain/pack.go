package domain

import "time"

// PackTier - размер пака
type PackTier string

const (
	PackTierMicro PackTier = "micro"
	PackTierMini  PackTier = "mini"
	PackTierEvent PackTier = "event"
)

// PackKind - кто собрал пак (креатор или сама игра)
type PackKind string

const (
	PackKindCreator  PackKind = "creator"
	PackKindOfficial PackKind = "official"
)

// PackState - состояние пака в жизненном цикле
type PackState string

const (
	PackStateDraft     PackState = "draft"
	PackStateLive      PackState = "live"
	PackStateArchived  PackState = "archived"
	PackStateCancelled PackState = "cancelled"
)

// Rarity - редкость карты, от низшей к высшей
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
	RarityMythic    Rarity = "mythic"
)

// Stats - фиксированный набор характеристик карты
type Stats struct {
	Power    int `json:"power"`
	Flow     int `json:"flow"`
	Hype     int `json:"hype"`
	Presence int `json:"presence"`
}

// Named returns stats in a stable order, keyed by their wire name.
func (s Stats) Named() []NamedStat {
	return []NamedStat{
		{Name: "power", Value: s.Power},
		{Name: "flow", Value: s.Flow},
		{Name: "hype", Value: s.Hype},
		{Name: "presence", Value: s.Presence},
	}
}

type NamedStat struct {
	Name  string
	Value int
}

// CardEntry - карта внутри пака креатора
type CardEntry struct {
	ArtistName string `json:"artist_name"`
	TrackTitle string `json:"track_title,omitempty"`
	SourceURL  string `json:"source_url"`
	Rarity     Rarity `json:"rarity"`
	Stats      Stats  `json:"stats"`
}

// CreatorPack - пак, собранный креатором
type CreatorPack struct {
	ID          int64       `db:"id" json:"id"`
	CreatorID   int64       `db:"creator_id" json:"creator_id"`
	Title       string      `db:"title" json:"title"`
	Tier        PackTier    `db:"tier" json:"tier"`
	State       PackState   `db:"state" json:"state"`
	Cards       []CardEntry `db:"cards" json:"cards"`
	Price       int64       `db:"price" json:"price"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	PublishedAt *time.Time  `db:"published_at" json:"published_at,omitempty"`
	ClosedAt    *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
}

// Editable reports whether cards may still be changed.
func (p *CreatorPack) Editable() bool {
	return p.State == PackStateDraft
}

// Terminal reports whether no further transition is possible.
func (p *CreatorPack) Terminal() bool {
	return p.State == PackStateArchived || p.State == PackStateCancelled
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *CreatorPack) Clone() *CreatorPack {
	cp := *p
	cp.Cards = append([]CardEntry(nil), p.Cards...)
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		cp.PublishedAt = &t
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// PackSummary - краткая информация для витрины
type PackSummary struct {
	ID          int64      `json:"id"`
	CreatorID   int64      `json:"creator_id"`
	Title       string     `json:"title"`
	Tier        PackTier   `json:"tier"`
	Price       int64      `json:"price"`
	CardCount   int        `json:"card_count"`
	Artists     []string   `json:"artists"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Summary builds the storefront view of a pack.
func (p *CreatorPack) Summary() PackSummary {
	artists := make([]string, 0, len(p.Cards))
	for _, c := range p.Cards {
		artists = append(artists, c.ArtistName)
	}
	return PackSummary{
		ID:          p.ID,
		CreatorID:   p.CreatorID,
		Title:       p.Title,
		Tier:        p.Tier,
		Price:       p.Price,
		CardCount:   len(p.Cards),
		Artists:     artists,
		PublishedAt: p.PublishedAt,
	}
}

// CardDescriptor - то, что автор пака передаёт при добавлении карты
type CardDescriptor struct {
	ArtistName string  `json:"artist_name"`
	TrackTitle string  `json:"track_title,omitempty"`
	SourceURL  string  `json:"source_url"`
	Signal     *Signal `json:"-"`
}

// Signal - метрики популярности от провайдера метаданных
type Signal struct {
	Popularity   int   `json:"popularity"` // 0-100
	Followers    int64 `json:"followers"`
	MonthlyPlays int64 `json:"monthly_plays"`
}
