package service

import (
	"context"
	"time"

	"packmarket/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminService provides admin statistics and operations
type AdminService struct {
	db      *pgxpool.Pool
	balance *BalanceService
	audit   *AuditService
}

// NewAdminService creates a new admin service
func NewAdminService(db *pgxpool.Pool, balance *BalanceService, audit *AuditService) *AdminService {
	return &AdminService{db: db, balance: balance, audit: audit}
}

// Stats represents marketplace statistics
type Stats struct {
	TotalUsers       int64 `json:"total_users"`
	NewUsersToday    int64 `json:"new_users_today"`
	TotalGems        int64 `json:"total_gems"` // Total gems in circulation
	LivePacks        int64 `json:"live_packs"`
	DraftPacks       int64 `json:"draft_packs"`
	PurchasesToday   int64 `json:"purchases_today"`
	PurchasesTotal   int64 `json:"purchases_total"`
	RevenueToday     int64 `json:"revenue_today"`
	PendingPurchases int64 `json:"pending_purchases"`
	CardsMinted      int64 `json:"cards_minted"`
	SeasonPlayers    int64 `json:"season_players"` // players with progress in the open season
}

// GetStats returns marketplace statistics
func (s *AdminService) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return nil, err
	}
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, today).Scan(&stats.NewUsersToday)
	_ = s.db.QueryRow(ctx, `SELECT COALESCE(SUM(gems), 0) FROM users`).Scan(&stats.TotalGems)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE state = 'live'), COUNT(*) FILTER (WHERE state = 'draft')
		FROM creator_packs
	`).Scan(&stats.LivePacks, &stats.DraftPacks)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE created_at >= $1),
		       COUNT(*),
		       COALESCE(SUM(amount_charged) FILTER (WHERE created_at >= $1), 0),
		       COUNT(*) FILTER (WHERE status = 'pending_reconciliation')
		FROM pack_purchases
	`, today).Scan(&stats.PurchasesToday, &stats.PurchasesTotal, &stats.RevenueToday, &stats.PendingPurchases)

	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM player_cards`).Scan(&stats.CardsMinted)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM season_progress sp
		JOIN seasons s ON s.id = sp.season_id
		WHERE s.closed_at IS NULL
	`).Scan(&stats.SeasonPlayers)

	return stats, nil
}

// UserInfo represents user information for admin
type UserInfo struct {
	ID           int64     `json:"id"`
	TgID         int64     `json:"tg_id"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	Gems         int64     `json:"gems"`
	CreatedAt    time.Time `json:"created_at"`
	PacksCreated int64     `json:"packs_created"`
	Purchases    int64     `json:"purchases"`
	Cards        int64     `json:"cards"`
}

// GetUser returns user info by ID, telegram ID or username
func (s *AdminService) GetUser(ctx context.Context, identifier string) (*UserInfo, error) {
	var user UserInfo

	err := s.db.QueryRow(ctx, `
		SELECT id, tg_id, COALESCE(username, ''), COALESCE(first_name, ''), gems, created_at
		FROM users
		WHERE id::text = $1 OR tg_id::text = $1 OR LOWER(username) = LOWER($1)
		LIMIT 1
	`, identifier).Scan(&user.ID, &user.TgID, &user.Username, &user.FirstName, &user.Gems, &user.CreatedAt)
	if err != nil {
		return nil, err
	}

	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM creator_packs WHERE creator_id = $1`, user.ID).Scan(&user.PacksCreated)
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM pack_purchases WHERE buyer_id = $1`, user.ID).Scan(&user.Purchases)
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM player_cards WHERE owner_id = $1`, user.ID).Scan(&user.Cards)

	return &user, nil
}

// AddUserGems credits gems to a user and records the transaction
func (s *AdminService) AddUserGems(ctx context.Context, userID int64, amount int64, adminTgID int64) (int64, error) {
	newBalance, err := s.balance.Credit(ctx, userID, amount, domain.TxAdminCredit, map[string]interface{}{
		"admin_tg_id": adminTgID,
	})
	if err != nil {
		return 0, err
	}
	if s.audit != nil {
		s.audit.LogAdminAction(ctx, adminTgID, domain.AuditActionAdminCredit, userID, map[string]interface{}{"amount": amount})
	}
	return newBalance, nil
}

// RecentAudit returns the latest audit log entries
func (s *AdminService) RecentAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.GetRecentLogs(ctx, limit)
}
