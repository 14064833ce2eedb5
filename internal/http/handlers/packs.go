package handlers

import (
	"net/http"
	"strconv"

	"packmarket/internal/domain"

	"github.com/gin-gonic/gin"
)

type createPackRequest struct {
	Tier  domain.PackTier `json:"tier" binding:"required"`
	Title string          `json:"title" binding:"required"`
	Price int64           `json:"price"`
}

type cardRequest struct {
	ArtistName string `json:"artist_name" binding:"required"`
	TrackTitle string `json:"track_title"`
	SourceURL  string `json:"source_url" binding:"required"`
}

func (r cardRequest) descriptor() domain.CardDescriptor {
	return domain.CardDescriptor{
		ArtistName: r.ArtistName,
		TrackTitle: r.TrackTitle,
		SourceURL:  r.SourceURL,
	}
}

type packDetailsRequest struct {
	Title string `json:"title" binding:"required"`
	Price int64  `json:"price"`
}

// ListLivePacks - витрина
func (h *Handler) ListLivePacks(c *gin.Context) {
	packs, err := h.Packs.ListLive(c.Request.Context(), queryLimit(c, defaultListLimit, maxListLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs})
}

// GetPack returns a live pack to anyone, or any pack to its creator.
func (h *Handler) GetPack(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	packID, ok := paramID(c, "id")
	if !ok {
		return
	}
	pack, err := h.Packs.Get(c.Request.Context(), userID, packID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack})
}

func (h *Handler) MyPacks(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	packs, err := h.Packs.ListByCreator(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs})
}

func (h *Handler) CreatePack(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	var req createPackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier and title are required", "code": "bad_request"})
		return
	}

	pack, err := h.Packs.CreateDraft(c.Request.Context(), userID, req.Tier, req.Title, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pack": pack})
}

func (h *Handler) UpdatePackDetails(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		var req packDetailsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, errBadBody
		}
		return h.Packs.UpdateDetails(c.Request.Context(), userID, packID, req.Title, req.Price)
	})
}

func (h *Handler) AddCard(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		var req cardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, errBadBody
		}
		return h.Packs.AddCard(c.Request.Context(), userID, packID, req.descriptor())
	})
}

func (h *Handler) UpdateCard(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return nil, errBadBody
		}
		var req cardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, errBadBody
		}
		return h.Packs.UpdateCard(c.Request.Context(), userID, packID, index, req.descriptor())
	})
}

func (h *Handler) RemoveCard(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return nil, errBadBody
		}
		return h.Packs.RemoveCard(c.Request.Context(), userID, packID, index)
	})
}

// PreviewPack runs the validator without changing the pack.
func (h *Handler) PreviewPack(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	packID, ok := paramID(c, "id")
	if !ok {
		return
	}
	result, err := h.Packs.Preview(c.Request.Context(), userID, packID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) PublishEligibility(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	decision, err := h.Packs.PublishEligibility(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (h *Handler) PublishPack(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		return h.Packs.Publish(c.Request.Context(), userID, packID)
	})
}

func (h *Handler) ArchivePack(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		return h.Packs.Archive(c.Request.Context(), userID, packID)
	})
}

func (h *Handler) CancelPack(c *gin.Context) {
	h.withPack(c, func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error) {
		return h.Packs.Cancel(c.Request.Context(), userID, packID)
	})
}

// withPack resolves the caller and :id, runs fn and writes the resulting pack.
func (h *Handler) withPack(c *gin.Context, fn func(c *gin.Context, userID, packID int64) (*domain.CreatorPack, error)) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	packID, ok := paramID(c, "id")
	if !ok {
		return
	}
	pack, err := fn(c, userID, packID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack})
}
