package service

import (
	"errors"
	"fmt"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
)

var (
	ErrPackNotFound        = errors.New("pack not found")
	ErrPackNotEditable     = errors.New("pack is not editable")
	ErrPackNotLive         = errors.New("pack is not live")
	ErrNotPackOwner        = errors.New("not the pack owner")
	ErrInvalidPrice        = errors.New("invalid pack price")
	ErrCardIndex           = errors.New("card index out of range")
	ErrPaymentDeclined     = errors.New("payment declined")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrAlreadyClaimed      = errors.New("reward already claimed")
	ErrNotUnlocked         = errors.New("reward not unlocked")
	ErrSeasonEnded         = errors.New("season ended")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrNoActiveSeason      = errors.New("no active season")
	ErrSeasonNotFound      = errors.New("season not found")
	ErrDailyAlreadyClaimed = errors.New("daily reward already claimed today")
	ErrInvalidEvent        = errors.New("invalid xp event")
)

// ValidationError carries the full violation list of a failed validation.
type ValidationError struct {
	Result economy.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pack validation failed with %d violation(s)", len(e.Result.Violations))
}

// PublishBlockedError is returned when the creator limit ledger refuses a publish.
type PublishBlockedError struct {
	Reason     domain.PublishBlockReason
	RetryAt    *time.Time
	LivePackID *int64
}

func (e *PublishBlockedError) Error() string {
	switch e.Reason {
	case domain.PublishBlockCooldownActive:
		if e.RetryAt != nil {
			return fmt.Sprintf("publish blocked: cooldown active until %s", e.RetryAt.UTC().Format(time.RFC3339))
		}
	case domain.PublishBlockOneLiveLimit:
		if e.LivePackID != nil {
			return fmt.Sprintf("publish blocked: pack %d is already live", *e.LivePackID)
		}
	}
	return fmt.Sprintf("publish blocked: %s", e.Reason)
}

// PartialPurchaseError means payment was captured but fulfilment is incomplete.
// The purchase is recorded as pending and will be reconciled.
type PartialPurchaseError struct {
	Purchase *domain.PackPurchase
	Stage    domain.PurchaseStage
	Err      error
}

func (e *PartialPurchaseError) Error() string {
	return fmt.Sprintf("purchase %s pending at %s stage: %v", e.Purchase.ID, e.Stage, e.Err)
}

func (e *PartialPurchaseError) Unwrap() error { return e.Err }
