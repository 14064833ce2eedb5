package domain

import (
	"strings"
	"time"
)

// PurchaseStatus - статус покупки пака
type PurchaseStatus string

const (
	PurchaseStatusCompleted             PurchaseStatus = "completed"
	PurchaseStatusPendingReconciliation PurchaseStatus = "pending_reconciliation"
)

// PurchaseStage - на каком шаге покупка не завершилась
type PurchaseStage string

const (
	PurchaseStageMint PurchaseStage = "mint"
	PurchaseStageXP   PurchaseStage = "xp"
)

// PackPurchase - запись в pack_purchases. Создаётся ровно одна на каждую оплаченную покупку.
type PackPurchase struct {
	ID               string         `db:"id" json:"id"`
	PackID           int64          `db:"pack_id" json:"pack_id"`
	BuyerID          int64          `db:"buyer_id" json:"buyer_id"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	MintedCardIDs    []int64        `db:"minted_card_ids" json:"minted_card_ids"`
	AmountCharged    int64          `db:"amount_charged" json:"amount_charged"`
	PaymentReference string         `db:"payment_reference" json:"payment_reference"`
	Status           PurchaseStatus `db:"status" json:"status"`
	FailureStage     *PurchaseStage `db:"failure_stage" json:"failure_stage,omitempty"`
	NewArtists       []string       `db:"new_artists" json:"new_artists,omitempty"`
	Attempts         int            `db:"attempts" json:"attempts"`
	LastError        string         `db:"last_error" json:"last_error,omitempty"`
	ReconciledAt     *time.Time     `db:"reconciled_at" json:"reconciled_at,omitempty"`
}

// Pending reports whether the purchase still needs reconciliation.
func (p *PackPurchase) Pending() bool {
	return p.Status == PurchaseStatusPendingReconciliation
}

// PlayerCard - карта в коллекции игрока
type PlayerCard struct {
	ID         int64     `db:"id" json:"id"`
	OwnerID    int64     `db:"owner_id" json:"owner_id"`
	PurchaseID *string   `db:"purchase_id" json:"purchase_id,omitempty"`
	PackID     *int64    `db:"pack_id" json:"pack_id,omitempty"`
	Slot       int       `db:"slot" json:"slot"`
	SeasonID   *int64    `db:"season_id" json:"season_id,omitempty"`
	ArtistName string    `db:"artist_name" json:"artist_name"`
	TrackTitle string    `db:"track_title" json:"track_title,omitempty"`
	SourceURL  string    `db:"source_url" json:"source_url"`
	Rarity     Rarity    `db:"rarity" json:"rarity"`
	Stats      Stats     `db:"stats" json:"stats"`
	MintedAt   time.Time `db:"minted_at" json:"minted_at"`
}

// ArtistKey normalizes an artist name for comparisons: case and inner
// whitespace are ignored.
func ArtistKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NewArtists returns the distinct names missing from owned, in the order given.
func NewArtists(owned, names []string) []string {
	have := make(map[string]bool, len(owned))
	for _, a := range owned {
		have[ArtistKey(a)] = true
	}
	var out []string
	for _, name := range names {
		key := ArtistKey(name)
		if key == "" || have[key] {
			continue
		}
		have[key] = true
		out = append(out, name)
	}
	return out
}
