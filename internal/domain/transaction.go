package domain

import (
	"fmt"
	"time"
)

// Типы движений гемов в transactions
const (
	TxPackPurchase = "pack_purchase" // покупатель платит за пак
	TxPackSale     = "pack_sale"     // доля креатора с продажи
	TxSeasonReward = "season_reward"
	TxAdminCredit  = "admin_credit"
	TxTopUp        = "test_topup"
)

type Transaction struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Type      string                 `db:"type" json:"type"`
	Amount    int64                  `db:"amount" json:"amount"`
	Meta      map[string]interface{} `db:"meta" json:"meta,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// PurchaseID returns the pack purchase the movement belongs to, or "".
func (t *Transaction) PurchaseID() string {
	if t.Meta == nil {
		return ""
	}
	switch v := t.Meta["purchase_id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Debit reports whether gems left the account
func (t *Transaction) Debit() bool {
	return t.Amount < 0
}
