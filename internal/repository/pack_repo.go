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

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// CreatorScope is one creator's view of creator_packs and creator_pack_limits
// inside that creator's critical section. Everything written through it
// commits or rolls back together.
type CreatorScope interface {
	Pack(ctx context.Context, packID int64) (*domain.CreatorPack, error)
	Limit(ctx context.Context) (*domain.CreatorLimit, error)
	SavePack(ctx context.Context, p *domain.CreatorPack) error
	SaveLimit(ctx context.Context, l *domain.CreatorLimit) error
}

type PackRepository struct {
	db *pgxpool.Pool
}

func NewPackRepository(db *pgxpool.Pool) *PackRepository {
	return &PackRepository{db: db}
}

const packColumns = `id, creator_id, title, tier, state, cards, price, created_at, published_at, closed_at`

// CreatePack inserts a new draft and fills ID/CreatedAt
func (r *PackRepository) CreatePack(ctx context.Context, p *domain.CreatorPack) error {
	cardsJSON, err := marshalCards(p.Cards)
	if err != nil {
		return err
	}
	return r.db.QueryRow(ctx,
		`INSERT INTO creator_packs (creator_id, title, tier, state, cards, price)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		p.CreatorID, p.Title, p.Tier, p.State, cardsJSON, p.Price,
	).Scan(&p.ID, &p.CreatedAt)
}

// GetPack returns a pack by id
func (r *PackRepository) GetPack(ctx context.Context, id int64) (*domain.CreatorPack, error) {
	row := r.db.QueryRow(ctx, `SELECT `+packColumns+` FROM creator_packs WHERE id = $1`, id)
	return scanPack(row)
}

// ListLive returns live packs, newest first
func (r *PackRepository) ListLive(ctx context.Context, limit int) ([]*domain.CreatorPack, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+packColumns+`
		 FROM creator_packs
		 WHERE state = 'live'
		 ORDER BY published_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPacks(rows)
}

// ListByCreator returns all packs of a creator, newest first
func (r *PackRepository) ListByCreator(ctx context.Context, creatorID int64) ([]*domain.CreatorPack, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+packColumns+`
		 FROM creator_packs
		 WHERE creator_id = $1
		 ORDER BY created_at DESC`,
		creatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPacks(rows)
}

// GetLimit reads a creator's limit row without locking. Missing rows read as a
// fresh record.
func (r *PackRepository) GetLimit(ctx context.Context, creatorID int64) (*domain.CreatorLimit, error) {
	l := &domain.CreatorLimit{CreatorID: creatorID}
	err := r.db.QueryRow(ctx,
		`SELECT last_published_at, current_live_pack_id FROM creator_pack_limits WHERE creator_id = $1`,
		creatorID,
	).Scan(&l.LastPublishedAt, &l.CurrentLivePackID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return l, nil
}

// InCreatorTx runs fn while holding the creator's limit row FOR UPDATE.
// Concurrent calls for the same creator queue on that row lock.
func (r *PackRepository) InCreatorTx(ctx context.Context, creatorID int64, fn func(CreatorScope) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO creator_pack_limits (creator_id) VALUES ($1) ON CONFLICT (creator_id) DO NOTHING`,
		creatorID,
	); err != nil {
		return fmt.Errorf("ensure limit row: %w", err)
	}

	scope := &creatorScope{tx: tx, creatorID: creatorID}
	if _, err := scope.Limit(ctx); err != nil {
		return fmt.Errorf("lock limit row: %w", err)
	}

	if err := fn(scope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type creatorScope struct {
	tx        pgx.Tx
	creatorID int64
}

func (s *creatorScope) Pack(ctx context.Context, packID int64) (*domain.CreatorPack, error) {
	row := s.tx.QueryRow(ctx,
		`SELECT `+packColumns+` FROM creator_packs WHERE id = $1 AND creator_id = $2 FOR UPDATE`,
		packID, s.creatorID,
	)
	return scanPack(row)
}

func (s *creatorScope) Limit(ctx context.Context) (*domain.CreatorLimit, error) {
	l := &domain.CreatorLimit{CreatorID: s.creatorID}
	err := s.tx.QueryRow(ctx,
		`SELECT last_published_at, current_live_pack_id
		 FROM creator_pack_limits
		 WHERE creator_id = $1
		 FOR UPDATE`,
		s.creatorID,
	).Scan(&l.LastPublishedAt, &l.CurrentLivePackID)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *creatorScope) SavePack(ctx context.Context, p *domain.CreatorPack) error {
	cardsJSON, err := marshalCards(p.Cards)
	if err != nil {
		return err
	}
	tag, err := s.tx.Exec(ctx,
		`UPDATE creator_packs
		 SET title = $3, state = $4, cards = $5, price = $6, published_at = $7, closed_at = $8
		 WHERE id = $1 AND creator_id = $2`,
		p.ID, s.creatorID, p.Title, p.State, cardsJSON, p.Price, p.PublishedAt, p.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *creatorScope) SaveLimit(ctx context.Context, l *domain.CreatorLimit) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE creator_pack_limits
		 SET last_published_at = $2, current_live_pack_id = $3, updated_at = $4
		 WHERE creator_id = $1`,
		s.creatorID, l.LastPublishedAt, l.CurrentLivePackID, time.Now(),
	)
	return err
}

func marshalCards(cards []domain.CardEntry) ([]byte, error) {
	if cards == nil {
		cards = []domain.CardEntry{}
	}
	return json.Marshal(cards)
}

func scanPack(row pgx.Row) (*domain.CreatorPack, error) {
	var (
		p         domain.CreatorPack
		cardsJSON []byte
	)
	if err := row.Scan(&p.ID, &p.CreatorID, &p.Title, &p.Tier, &p.State, &cardsJSON, &p.Price,
		&p.CreatedAt, &p.PublishedAt, &p.ClosedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(cardsJSON) > 0 {
		if err := json.Unmarshal(cardsJSON, &p.Cards); err != nil {
			return nil, fmt.Errorf("decode cards of pack %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanPacks(rows pgx.Rows) ([]*domain.CreatorPack, error) {
	var result []*domain.CreatorPack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
