package handlers

import (
	"net/http"
	"strconv"

	"packmarket/internal/domain"

	"github.com/gin-gonic/gin"
)

func (h *Handler) SeasonInfo(c *gin.Context) {
	info, err := h.Seasons.Info(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) SeasonProgress(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	view, err := h.Seasons.Progress(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ClaimReward(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	reward, err := h.Seasons.ClaimReward(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reward": reward})
}

func (h *Handler) ClaimDaily(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	res, err := h.Seasons.ClaimDaily(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetLeaderboard returns the top players. ?season_id selects a past season,
// default is the active one.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	var seasonID int64
	if v := c.Query("season_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid season_id", "code": "bad_request"})
			return
		}
		seasonID = id
	}

	topN := h.LeaderboardTopN
	if topN <= 0 {
		topN = 100
	}
	topN = queryLimit(c, topN, topN)

	entries, err := h.Seasons.Leaderboard(c.Request.Context(), seasonID, topN)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// GetMyRank returns the caller's position on the live leaderboard, 0 if unranked
func (h *Handler) GetMyRank(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	rank, err := h.Seasons.Position(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rank": rank})
}
