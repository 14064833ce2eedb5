package handlers

import (
	"errors"
	"net/http"

	"packmarket/internal/economy"
	"packmarket/internal/enrichment"
	"packmarket/internal/logger"
	"packmarket/internal/repository"
	"packmarket/internal/service"

	"github.com/gin-gonic/gin"
)

var errBadBody = errors.New("invalid request body")

// respondError maps service errors to a status code and a stable `code` string.
// Unknown errors are logged and reported as 500 without details.
func respondError(c *gin.Context, err error) {
	var (
		validation *service.ValidationError
		blocked    *service.PublishBlockedError
		partial    *service.PartialPurchaseError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "pack validation failed",
			"code":       "validation_failed",
			"violations": validation.Result.Violations,
		})
	case errors.As(err, &blocked):
		body := gin.H{
			"error":  err.Error(),
			"code":   "publish_blocked",
			"reason": blocked.Reason,
		}
		if blocked.RetryAt != nil {
			body["retry_at"] = blocked.RetryAt
		}
		if blocked.LivePackID != nil {
			body["live_pack_id"] = *blocked.LivePackID
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &partial):
		// оплата прошла, карты/XP довыдаст реконсиляция
		c.JSON(http.StatusAccepted, gin.H{
			"code":     "purchase_pending",
			"purchase": partial.Purchase,
		})

	case errors.Is(err, service.ErrPaymentDeclined):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "code": "payment_declined"})

	case errors.Is(err, service.ErrPackNotFound),
		errors.Is(err, service.ErrPurchaseNotFound),
		errors.Is(err, service.ErrRewardNotFound),
		errors.Is(err, service.ErrSeasonNotFound),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, service.ErrNoActiveSeason):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "no_active_season"})

	case errors.Is(err, service.ErrNotPackOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_pack_owner"})

	case errors.Is(err, service.ErrPackNotEditable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "pack_not_editable"})
	case errors.Is(err, service.ErrPackNotLive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "pack_not_live"})
	case errors.Is(err, service.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "already_claimed"})
	case errors.Is(err, service.ErrNotUnlocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "not_unlocked"})
	case errors.Is(err, service.ErrSeasonEnded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "season_ended"})
	case errors.Is(err, service.ErrDailyAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "daily_already_claimed"})

	case errors.Is(err, errBadBody),
		errors.Is(err, service.ErrInvalidPrice),
		errors.Is(err, service.ErrCardIndex),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, economy.ErrRarityNotPermitted),
		errors.Is(err, economy.ErrInvalidPolicyKey),
		errors.Is(err, enrichment.ErrUnsupportedURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
	case errors.Is(err, economy.ErrEnrichmentMissing),
		errors.Is(err, enrichment.ErrNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "enrichment_missing"})

	default:
		logger.FromContext(c.Request.Context()).Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
