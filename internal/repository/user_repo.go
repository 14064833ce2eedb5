package repository

import (
	"context"
	"errors"

	"packmarket/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Starting gem balance for new players
const initialGems = 1000

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByTgID(ctx context.Context, tgID int64) (*domain.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, tg_id, COALESCE(username, ''), COALESCE(first_name, ''), gems, created_at
		 FROM users
		 WHERE tg_id = $1`,
		tgID,
	)
	return scanUser(row)
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO users (tg_id, username, first_name, gems)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, gems, created_at`,
		u.TgID,
		u.Username,
		u.FirstName,
		initialGems,
	).Scan(&u.ID, &u.Gems, &u.CreatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, tg_id, COALESCE(username, ''), COALESCE(first_name, ''), gems, created_at
		 FROM users
		 WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.TgID, &u.Username, &u.FirstName, &u.Gems, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
