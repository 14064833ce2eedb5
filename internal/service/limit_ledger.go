package service

import (
	"time"

	"packmarket/internal/domain"
)

// DefaultPublishCooldown is the minimum gap between two publishes by one creator.
const DefaultPublishCooldown = 7 * 24 * time.Hour

// LimitLedger applies the one-live-pack and cooldown gates to a creator's
// limit record. It holds no state; callers pass the record they loaded inside
// the creator's critical section and persist it afterwards.
type LimitLedger struct {
	cooldown time.Duration
}

func NewLimitLedger(cooldown time.Duration) *LimitLedger {
	if cooldown <= 0 {
		cooldown = DefaultPublishCooldown
	}
	return &LimitLedger{cooldown: cooldown}
}

func (l *LimitLedger) Cooldown() time.Duration { return l.cooldown }

// CanPublish checks both gates. The live-pack gate is reported first.
func (l *LimitLedger) CanPublish(rec *domain.CreatorLimit, now time.Time) domain.PublishDecision {
	if rec == nil {
		return domain.PublishDecision{Allowed: true}
	}
	if rec.CurrentLivePackID != nil {
		id := *rec.CurrentLivePackID
		return domain.PublishDecision{Reason: domain.PublishBlockOneLiveLimit, LivePackID: &id}
	}
	if rec.LastPublishedAt != nil {
		retryAt := rec.LastPublishedAt.Add(l.cooldown)
		if now.Before(retryAt) {
			return domain.PublishDecision{Reason: domain.PublishBlockCooldownActive, RetryAt: &retryAt}
		}
	}
	return domain.PublishDecision{Allowed: true}
}

// RecordPublish marks packID as the creator's live pack.
func (l *LimitLedger) RecordPublish(rec *domain.CreatorLimit, packID int64, now time.Time) {
	t := now
	id := packID
	rec.LastPublishedAt = &t
	rec.CurrentLivePackID = &id
}

// ReleasePublishSlot clears the live pack if it is packID. The cooldown
// timestamp is kept. Returns false when packID was not the live pack.
func (l *LimitLedger) ReleasePublishSlot(rec *domain.CreatorLimit, packID int64) bool {
	if rec.CurrentLivePackID == nil || *rec.CurrentLivePackID != packID {
		return false
	}
	rec.CurrentLivePackID = nil
	return true
}

func blockedError(d domain.PublishDecision) *PublishBlockedError {
	return &PublishBlockedError{Reason: d.Reason, RetryAt: d.RetryAt, LivePackID: d.LivePackID}
}
