package domain

import "time"

// AuditLog represents an audit log entry for tracking important actions
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Audit action categories
const (
	AuditCategoryAuth     = "auth"
	AuditCategoryPack     = "pack"
	AuditCategoryPurchase = "purchase"
	AuditCategorySeason   = "season"
	AuditCategoryAdmin    = "admin"
)

// Audit actions
const (
	// Auth actions
	AuditActionLogin = "login"

	// Pack actions
	AuditActionPackCreate  = "pack_create"
	AuditActionPackPublish = "pack_publish"
	AuditActionPackArchive = "pack_archive"
	AuditActionPackCancel  = "pack_cancel"

	// Purchase actions
	AuditActionPurchase          = "purchase"
	AuditActionPurchasePending   = "purchase_pending"
	AuditActionPurchaseReconcile = "purchase_reconcile"

	// Season actions
	AuditActionRewardClaim = "reward_claim"
	AuditActionDailyClaim  = "daily_claim"
	AuditActionSeasonEnd   = "season_end"

	// Admin actions
	AuditActionAdminReconcile = "admin_reconcile"
	AuditActionAdminArchive   = "admin_archive"
	AuditActionAdminCredit    = "admin_credit"
)
