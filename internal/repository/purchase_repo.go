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

type PurchaseRepository struct {
	db *pgxpool.Pool
}

func NewPurchaseRepository(db *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

const purchaseColumns = `id::text, pack_id, buyer_id, created_at, minted_card_ids, amount_charged, payment_reference,
	status, failure_stage, new_artists, attempts, COALESCE(last_error, ''), reconciled_at`

// CommitPurchase stores a completed purchase and its minted cards in one transaction.
// The buyer's new artists are decided here under the collection lock and
// written to p.NewArtists. Card IDs go into p.MintedCardIDs and cards[i].ID.
func (r *PurchaseRepository) CommitPurchase(ctx context.Context, p *domain.PackPurchase, cards []domain.PlayerCard) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	artists, err := newArtistsWithTx(ctx, tx, p.BuyerID, cards)
	if err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	p.NewArtists = artists
	if err := insertPurchase(ctx, tx, p); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	ids, err := mintCards(ctx, tx, p.ID, cards)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE pack_purchases SET minted_card_ids = $2 WHERE id = $1`,
		p.ID, ids,
	); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.MintedCardIDs = ids
	for i := range cards {
		cards[i].ID = ids[i]
	}
	return nil
}

// RecordPending stores a purchase whose payment was captured but whose
// fulfilment did not finish.
func (r *PurchaseRepository) RecordPending(ctx context.Context, p *domain.PackPurchase) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertPurchase(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MintForPurchase inserts the purchase's cards if they are not there yet and
// returns the card ids ordered by slot with the purchase's new artists.
// Artists are decided on the first successful mint and kept afterwards.
// Safe to call repeatedly.
func (r *PurchaseRepository) MintForPurchase(ctx context.Context, purchaseID string, cards []domain.PlayerCard) ([]int64, []string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialize concurrent reconcilers on the purchase row
	var (
		buyerID int64
		minted  int
		artists []string
	)
	if err := tx.QueryRow(ctx,
		`SELECT buyer_id, cardinality(minted_card_ids), new_artists
		 FROM pack_purchases WHERE id = $1 FOR UPDATE`, purchaseID,
	).Scan(&buyerID, &minted, &artists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	if minted == 0 {
		if artists, err = newArtistsWithTx(ctx, tx, buyerID, cards); err != nil {
			return nil, nil, fmt.Errorf("collection: %w", err)
		}
	}
	ids, err := mintCards(ctx, tx, purchaseID, cards)
	if err != nil {
		return nil, nil, err
	}
	if artists == nil {
		artists = []string{}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE pack_purchases SET minted_card_ids = $2, new_artists = $3 WHERE id = $1`,
		purchaseID, ids, artists,
	); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return ids, artists, nil
}

// AdoptOrphanCaptures turns captures made before cutoff that never got a
// purchase row into pending purchases with the id the capture was taken for.
// Returns the adopted purchase ids.
func (r *PurchaseRepository) AdoptOrphanCaptures(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`INSERT INTO pack_purchases (id, pack_id, buyer_id, amount_charged, payment_reference,
			status, failure_stage, attempts, last_error)
		 SELECT c.purchase_id, c.pack_id, c.payer_id, c.amount, c.reference::text,
			'pending_reconciliation', 'mint', 0, 'purchase record missing after capture'
		 FROM payment_captures c
		 WHERE c.purchase_id IS NOT NULL AND c.pack_id IS NOT NULL AND c.captured_at < $1
		   AND NOT EXISTS (SELECT 1 FROM pack_purchases p WHERE p.id = c.purchase_id)
		 ORDER BY c.captured_at
		 LIMIT $2
		 ON CONFLICT DO NOTHING
		 RETURNING id::text`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkPending records another failed fulfilment attempt
func (r *PurchaseRepository) MarkPending(ctx context.Context, id string, stage domain.PurchaseStage, lastErr string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pack_purchases
		 SET status = 'pending_reconciliation', failure_stage = $2, last_error = $3, attempts = attempts + 1
		 WHERE id = $1`,
		id, stage, lastErr,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted closes a purchase after reconciliation
func (r *PurchaseRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pack_purchases
		 SET status = 'completed', failure_stage = NULL, last_error = NULL, reconciled_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PurchaseRepository) GetPurchase(ctx context.Context, id string) (*domain.PackPurchase, error) {
	row := r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM pack_purchases WHERE id = $1`, id)
	return scanPurchase(row)
}

// ListPending returns pending purchases with fewer than maxAttempts attempts, oldest first.
// maxAttempts <= 0 disables the cap.
func (r *PurchaseRepository) ListPending(ctx context.Context, maxAttempts, limit int) ([]*domain.PackPurchase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+purchaseColumns+`
		 FROM pack_purchases
		 WHERE status = 'pending_reconciliation' AND ($1 <= 0 OR attempts < $1)
		 ORDER BY created_at ASC
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

func (r *PurchaseRepository) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]*domain.PackPurchase, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+purchaseColumns+`
		 FROM pack_purchases
		 WHERE buyer_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		buyerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

func insertPurchase(ctx context.Context, tx pgx.Tx, p *domain.PackPurchase) error {
	if p.MintedCardIDs == nil {
		p.MintedCardIDs = []int64{}
	}
	if p.NewArtists == nil {
		p.NewArtists = []string{}
	}
	var lastErr *string
	if p.LastError != "" {
		lastErr = &p.LastError
	}
	return tx.QueryRow(ctx,
		`INSERT INTO pack_purchases (id, pack_id, buyer_id, minted_card_ids, amount_charged, payment_reference,
			status, failure_stage, new_artists, attempts, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		p.ID, p.PackID, p.BuyerID, p.MintedCardIDs, p.AmountCharged, p.PaymentReference,
		p.Status, p.FailureStage, p.NewArtists, p.Attempts, lastErr,
	).Scan(&p.CreatedAt)
}

// lockCollection holds the owner's collection until tx ends. Everything
// that adds cards to a collection takes it first.
func lockCollection(ctx context.Context, tx pgx.Tx, ownerID int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerID)
	return err
}

// newArtistsWithTx locks the owner's collection and returns the artists of
// cards the owner does not hold yet.
func newArtistsWithTx(ctx context.Context, tx pgx.Tx, ownerID int64, cards []domain.PlayerCard) ([]string, error) {
	if err := lockCollection(ctx, tx, ownerID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT DISTINCT artist_name FROM player_cards WHERE owner_id = $1`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	owned, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cards))
	for _, c := range cards {
		names = append(names, c.ArtistName)
	}
	artists := domain.NewArtists(owned, names)
	if artists == nil {
		artists = []string{}
	}
	return artists, nil
}

// mintCards inserts cards keyed by (purchase_id, slot) and returns ids for every slot.
func mintCards(ctx context.Context, tx pgx.Tx, purchaseID string, cards []domain.PlayerCard) ([]int64, error) {
	for i := range cards {
		c := &cards[i]
		statsJSON, err := json.Marshal(c.Stats)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO player_cards (owner_id, purchase_id, pack_id, slot, season_id, artist_name, track_title,
				source_url, rarity, stats, minted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (purchase_id, slot) DO NOTHING`,
			c.OwnerID, purchaseID, c.PackID, c.Slot, c.SeasonID, c.ArtistName, c.TrackTitle,
			c.SourceURL, c.Rarity, statsJSON, c.MintedAt,
		); err != nil {
			return nil, fmt.Errorf("mint slot %d: %w", c.Slot, err)
		}
	}

	rows, err := tx.Query(ctx,
		`SELECT id FROM player_cards WHERE purchase_id = $1 ORDER BY slot`, purchaseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0, len(cards))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) != len(cards) {
		return nil, fmt.Errorf("purchase %s: expected %d cards, found %d", purchaseID, len(cards), len(ids))
	}
	return ids, nil
}

func scanPurchase(row pgx.Row) (*domain.PackPurchase, error) {
	var p domain.PackPurchase
	if err := row.Scan(&p.ID, &p.PackID, &p.BuyerID, &p.CreatedAt, &p.MintedCardIDs, &p.AmountCharged,
		&p.PaymentReference, &p.Status, &p.FailureStage, &p.NewArtists, &p.Attempts, &p.LastError,
		&p.ReconciledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPurchases(rows pgx.Rows) ([]*domain.PackPurchase, error) {
	var result []*domain.PackPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
