package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Me returns the current user's profile including gems and recent transactions
func (h *Handler) Me(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	view := userJSONView(user)
	view["created_at"] = user.CreatedAt

	if h.Transactions != nil {
		transactions, _ := h.Transactions.GetTransactionHistory(ctx, userID, 20)
		history := make([]gin.H, 0, len(transactions))
		for _, tx := range transactions {
			entry := gin.H{
				"type":   tx.Type,
				"amount": tx.Amount,
				"debit":  tx.Debit(),
				"meta":   tx.Meta,
				"date":   tx.CreatedAt,
			}
			if id := tx.PurchaseID(); id != "" {
				entry["purchase_id"] = id
			}
			history = append(history, entry)
		}
		view["history"] = history
	}

	c.JSON(http.StatusOK, view)
}
