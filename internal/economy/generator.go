package economy

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"packmarket/internal/domain"
)

var (
	ErrEnrichmentMissing  = errors.New("enrichment data missing")
	ErrRarityNotPermitted = errors.New("rarity not permitted for pack kind")
)

// rarityBands maps a popularity score to a rarity. Scores at or above min
// select the band; checked from the top down.
var rarityBands = []struct {
	min    int
	rarity domain.Rarity
}{
	{95, domain.RarityMythic},
	{82, domain.RarityLegendary},
	{70, domain.RarityEpic},
	{55, domain.RarityRare},
	{35, domain.RarityUncommon},
	{0, domain.RarityCommon},
}

var rarityBaseStat = map[domain.Rarity]int{
	domain.RarityCommon:    38,
	domain.RarityUncommon:  48,
	domain.RarityRare:      58,
	domain.RarityEpic:      68,
	domain.RarityLegendary: 78,
	domain.RarityMythic:    88,
}

// Generator turns provider-enriched descriptors into cards. Output depends only
// on its input so pack previews stay stable.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Score folds the provider signal into a single 0-100 value.
func Score(s domain.Signal) int {
	score := s.Popularity
	if s.Followers >= 10_000_000 {
		score += 5
	} else if s.Followers >= 1_000_000 {
		score += 2
	}
	if s.MonthlyPlays >= 50_000_000 {
		score += 3
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// RarityForScore applies the deterministic banding.
func RarityForScore(score int) domain.Rarity {
	for _, b := range rarityBands {
		if score >= b.min {
			return b.rarity
		}
	}
	return domain.RarityCommon
}

// Generate builds a card entry for d under policy p.
func (g *Generator) Generate(d domain.CardDescriptor, p Policy) (domain.CardEntry, error) {
	if d.Signal == nil {
		return domain.CardEntry{}, fmt.Errorf("%w: no provider signal for %s", ErrEnrichmentMissing, d.SourceURL)
	}
	if strings.TrimSpace(d.ArtistName) == "" || strings.TrimSpace(d.SourceURL) == "" {
		return domain.CardEntry{}, fmt.Errorf("%w: artist name and source url are required", ErrEnrichmentMissing)
	}

	score := Score(*d.Signal)
	rarity := RarityForScore(score)
	if !p.Allows(rarity) {
		return domain.CardEntry{}, fmt.Errorf("%w: %s (score %d) rolled %s", ErrRarityNotPermitted, d.ArtistName, score, rarity)
	}

	base := rarityBaseStat[rarity]
	reach := 0
	if d.Signal.Followers > 0 {
		reach = int(math.Log10(float64(d.Signal.Followers)))
	}
	stats := domain.Stats{
		Power:    clampStat(base+score/10+jitter(d.SourceURL, "power"), p.StatCeiling),
		Flow:     clampStat(base+jitter(d.SourceURL, "flow")+2, p.StatCeiling),
		Hype:     clampStat(base+reach+jitter(d.SourceURL, "hype"), p.StatCeiling),
		Presence: clampStat(base+score/20+jitter(d.SourceURL, "presence"), p.StatCeiling),
	}

	return domain.CardEntry{
		ArtistName: strings.TrimSpace(d.ArtistName),
		TrackTitle: strings.TrimSpace(d.TrackTitle),
		SourceURL:  strings.TrimSpace(d.SourceURL),
		Rarity:     rarity,
		Stats:      stats,
	}, nil
}

// Mint creates the collection instance of a pack entry. Stats and rarity are
// copied from the entry, so a purchase yields exactly what the preview showed.
func (g *Generator) Mint(entry domain.CardEntry, ownerID int64, slot int, now time.Time) domain.PlayerCard {
	return domain.PlayerCard{
		OwnerID:    ownerID,
		Slot:       slot,
		ArtistName: entry.ArtistName,
		TrackTitle: entry.TrackTitle,
		SourceURL:  entry.SourceURL,
		Rarity:     entry.Rarity,
		Stats:      entry.Stats,
		MintedAt:   now,
	}
}

// jitter returns a stable offset in [-4, 4] per (url, stat).
func jitter(sourceURL, stat string) int {
	h := fnv.New32a()
	h.Write([]byte(sourceURL))
	h.Write([]byte{0})
	h.Write([]byte(stat))
	return int(h.Sum32()%9) - 4
}

func clampStat(v, ceiling int) int {
	if v > ceiling {
		return ceiling
	}
	if v < 1 {
		return 1
	}
	return v
}
