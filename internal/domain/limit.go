package domain

import "time"

// CreatorLimit - строка creator_pack_limits, единственный источник правды о праве публикации
type CreatorLimit struct {
	CreatorID         int64      `db:"creator_id" json:"creator_id"`
	LastPublishedAt   *time.Time `db:"last_published_at" json:"last_published_at,omitempty"`
	CurrentLivePackID *int64     `db:"current_live_pack_id" json:"current_live_pack_id,omitempty"`
}

// PublishBlockReason - почему публикация запрещена
type PublishBlockReason string

const (
	PublishBlockOneLiveLimit   PublishBlockReason = "one_live_limit"
	PublishBlockCooldownActive PublishBlockReason = "cooldown_active"
)

// PublishDecision - результат проверки лимитов креатора
type PublishDecision struct {
	Allowed bool               `json:"allowed"`
	Reason  PublishBlockReason `json:"reason,omitempty"`
	// RetryAt is set for cooldown blocks.
	RetryAt *time.Time `json:"retry_at,omitempty"`
	// LivePackID is set for one-live-pack blocks.
	LivePackID *int64 `json:"live_pack_id,omitempty"`
}
