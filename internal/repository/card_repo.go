package repository

import (
	"context"
	"encoding/json"

	"packmarket/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CardRepository struct {
	db *pgxpool.Pool
}

func NewCardRepository(db *pgxpool.Pool) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*domain.PlayerCard, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, purchase_id::text, pack_id, slot, season_id, artist_name, COALESCE(track_title, ''),
			source_url, rarity, stats, minted_at
		 FROM player_cards
		 WHERE owner_id = $1
		 ORDER BY minted_at DESC, slot ASC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.PlayerCard
	for rows.Next() {
		var (
			c         domain.PlayerCard
			statsJSON []byte
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.PurchaseID, &c.PackID, &c.Slot, &c.SeasonID, &c.ArtistName,
			&c.TrackTitle, &c.SourceURL, &c.Rarity, &statsJSON, &c.MintedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(statsJSON, &c.Stats)
		result = append(result, &c)
	}
	return result, rows.Err()
}

// GrantCard inserts a card outside of any purchase (season rewards)
func (r *CardRepository) GrantCard(ctx context.Context, c *domain.PlayerCard) error {
	statsJSON, err := json.Marshal(c.Stats)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockCollection(ctx, tx, c.OwnerID); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO player_cards (owner_id, slot, season_id, artist_name, track_title, source_url, rarity, stats, minted_at)
		 VALUES ($1, 0, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		c.OwnerID, c.SeasonID, c.ArtistName, c.TrackTitle, c.SourceURL, c.Rarity, statsJSON, c.MintedAt,
	).Scan(&c.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GrantItem stores a cosmetic or title. Granting the same item twice is a no-op.
func (r *CardRepository) GrantItem(ctx context.Context, it *domain.PlayerItem) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO player_items (player_id, kind, item_id, season_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id, kind, item_id) DO UPDATE SET season_id = player_items.season_id
		 RETURNING id, granted_at`,
		it.PlayerID, it.Kind, it.ItemID, it.SeasonID,
	).Scan(&it.ID, &it.GrantedAt)
	return err
}

func (r *CardRepository) ListItems(ctx context.Context, playerID int64) ([]*domain.PlayerItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, player_id, kind, item_id, season_id, granted_at
		 FROM player_items
		 WHERE player_id = $1
		 ORDER BY granted_at DESC`,
		playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.PlayerItem, error) {
		var it domain.PlayerItem
		err := row.Scan(&it.ID, &it.PlayerID, &it.Kind, &it.ItemID, &it.SeasonID, &it.GrantedAt)
		return &it, err
	})
}
