package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"packmarket/internal/domain"
	"packmarket/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GemsPaymentProvider captures pack payments from the buyer's gem balance.
// The authorization token is a client-generated idempotency key: capturing it
// a second time is declined, so a retried request can never charge twice.
type GemsPaymentProvider struct {
	db       *pgxpool.Pool
	balance  *BalanceService
	captures *repository.PaymentRepository
	txRepo   *repository.TransactionRepository
}

func NewGemsPaymentProvider(db *pgxpool.Pool, balance *BalanceService) *GemsPaymentProvider {
	return &GemsPaymentProvider{
		db:       db,
		balance:  balance,
		captures: repository.NewPaymentRepository(db),
		txRepo:   repository.NewTransactionRepository(db),
	}
}

func (p *GemsPaymentProvider) Capture(ctx context.Context, c Charge) (Receipt, error) {
	if strings.TrimSpace(c.Authorization) == "" {
		return Receipt{}, fmt.Errorf("%w: missing authorization", ErrPaymentDeclined)
	}
	if c.Amount < 0 {
		return Receipt{}, fmt.Errorf("%w: negative amount", ErrPaymentDeclined)
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Receipt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ref, err := p.captures.CreateCaptureWithTx(ctx, tx, repository.Capture{
		Authorization: c.Authorization,
		PayerID:       c.PayerID,
		Amount:        c.Amount,
		PurchaseID:    c.PurchaseID,
		PackID:        c.PackID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAuthorizationUsed) {
			return Receipt{}, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
		}
		return Receipt{}, err
	}

	// free packs still record the capture
	if c.Amount > 0 {
		if _, err := p.balance.DebitWithTx(ctx, tx, c.PayerID, c.Amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUserNotFound) {
				return Receipt{}, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
			}
			return Receipt{}, err
		}
		if err := p.txRepo.CreateWithTx(ctx, tx, &domain.Transaction{
			UserID: c.PayerID,
			Type:   domain.TxPackPurchase,
			Amount: -c.Amount,
			Meta: map[string]interface{}{
				"reference":   ref,
				"purchase_id": c.PurchaseID,
				"description": c.Description,
			},
		}); err != nil {
			return Receipt{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: ref, Amount: c.Amount}, nil
}
