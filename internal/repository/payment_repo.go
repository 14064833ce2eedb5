package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAuthorizationUsed is returned when a payment authorization was already captured
var ErrAuthorizationUsed = errors.New("payment authorization already used")

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Capture is one captured payment. PurchaseID and PackID are set for pack
// purchases and left empty for anything else.
type Capture struct {
	Authorization string
	PayerID       int64
	Amount        int64
	PurchaseID    string
	PackID        int64
}

// CreateCaptureWithTx stores the capture and returns its reference.
// The token is unique, so a second capture with it fails with ErrAuthorizationUsed.
func (r *PaymentRepository) CreateCaptureWithTx(ctx context.Context, tx pgx.Tx, c Capture) (string, error) {
	var (
		purchaseID *string
		packID     *int64
	)
	if c.PurchaseID != "" {
		purchaseID = &c.PurchaseID
	}
	if c.PackID != 0 {
		packID = &c.PackID
	}

	var reference string
	err := tx.QueryRow(ctx,
		`INSERT INTO payment_captures (authorization_token, payer_id, amount, purchase_id, pack_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING reference::text`,
		c.Authorization, c.PayerID, c.Amount, purchaseID, packID,
	).Scan(&reference)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrAuthorizationUsed
		}
		return "", err
	}
	return reference, nil
}
