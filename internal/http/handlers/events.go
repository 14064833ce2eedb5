package handlers

import (
	"net/http"

	"packmarket/internal/domain"

	"github.com/gin-gonic/gin"
)

type reportEventRequest struct {
	PlayerID int64              `json:"player_id" binding:"required"`
	Kind     domain.XPEventKind `json:"kind" binding:"required"`
	// Ref is the event id in the reporting service; retries with the same ref are counted once.
	Ref string `json:"ref"`
}

// ReportEvent is called by the battle and trade services behind a service token.
func (h *Handler) ReportEvent(c *gin.Context) {
	var req reportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id and kind are required", "code": "bad_request"})
		return
	}

	progress, err := h.Seasons.ReportEvent(c.Request.Context(), req.PlayerID, req.Kind, req.Ref)
	if err != nil {
		respondError(c, err)
		return
	}
	if progress == nil {
		c.JSON(http.StatusOK, gin.H{"progress": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress.View()})
}
