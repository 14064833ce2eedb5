package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type buyRequest struct {
	// Authorization is a one-shot payment token issued by the client.
	// Reusing it is declined, so a retried request never charges twice.
	Authorization string `json:"authorization"`
}

// BuyPack charges the buyer and mints the pack's cards into their collection.
// 200 means fully completed, 202 means paid but pending reconciliation.
func (h *Handler) BuyPack(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	packID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req buyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request", "code": "bad_request"})
			return
		}
	}
	auth := strings.TrimSpace(req.Authorization)
	if auth == "" {
		auth = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	if auth == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment authorization required", "code": "bad_request"})
		return
	}

	purchase, err := h.Purchases.Purchase(c.Request.Context(), packID, userID, auth)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

func (h *Handler) MyPurchases(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	purchases, err := h.Purchases.ListByBuyer(c.Request.Context(), userID, queryLimit(c, defaultListLimit, maxListLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (h *Handler) GetPurchase(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	purchase, err := h.Purchases.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

// MyCards - коллекция карт игрока
func (h *Handler) MyCards(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	cards, err := h.Purchases.Collection(c.Request.Context(), userID, queryLimit(c, maxListLimit, 1000))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// MyItems lists cosmetics and titles granted by season rewards.
func (h *Handler) MyItems(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	items, err := h.Purchases.Items(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
