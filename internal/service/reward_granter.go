package service

import (
	"context"
	"fmt"
	"time"

	"packmarket/internal/domain"
)

// CatalogGranter delivers season rewards. Every payload kind is handled here
// and nowhere else.
type CatalogGranter struct {
	balance Crediter
	cards   CardStore
	now     func() time.Time
}

func NewCatalogGranter(balance Crediter, cards CardStore) *CatalogGranter {
	return &CatalogGranter{balance: balance, cards: cards, now: time.Now}
}

func (g *CatalogGranter) Grant(ctx context.Context, playerID int64, season *domain.Season, r domain.Reward) error {
	switch p := r.Payload.(type) {
	case domain.CurrencyReward:
		_, err := g.balance.Credit(ctx, playerID, p.Amount, domain.TxSeasonReward, map[string]interface{}{
			"season_id": season.ID,
			"reward_id": r.ID,
		})
		return err
	case domain.CardGrantReward:
		seasonID := season.ID
		return g.cards.GrantCard(ctx, &domain.PlayerCard{
			OwnerID:    playerID,
			SeasonID:   &seasonID,
			ArtistName: p.ArtistName,
			TrackTitle: p.TrackTitle,
			SourceURL:  p.SourceURL,
			Rarity:     p.Rarity,
			Stats:      p.Stats,
			MintedAt:   g.now(),
		})
	case domain.CosmeticReward:
		return g.cards.GrantItem(ctx, &domain.PlayerItem{
			PlayerID: playerID,
			Kind:     domain.RewardKindCosmetic,
			ItemID:   p.CosmeticID,
			SeasonID: season.ID,
		})
	case domain.TitleReward:
		return g.cards.GrantItem(ctx, &domain.PlayerItem{
			PlayerID: playerID,
			Kind:     domain.RewardKindTitle,
			ItemID:   p.TitleID,
			SeasonID: season.ID,
		})
	}
	return fmt.Errorf("reward %s has unsupported payload %T", r.ID, r.Payload)
}
