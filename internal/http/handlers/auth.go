package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"packmarket/internal/domain"
	"packmarket/internal/repository"
	"packmarket/internal/service"
	"packmarket/internal/telegram"

	"github.com/gin-gonic/gin"
)

type AuthRequest struct {
	InitData string `json:"init_data"`
}

func (h *Handler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request", "code": "bad_request"})
		return
	}

	var tu *telegram.WebAppUser
	if h.DevMode {
		// DEV MODE: пропускаем валидацию, id берём из init_data если есть
		tu = devUser(req.InitData)
	} else {
		if len(req.InitData) > 4096 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "init_data too long", "code": "bad_request"})
			return
		}

		values, err := h.InitData.Verify(req.InitData)
		if err != nil {
			if errors.Is(err, service.ErrInitDataStale) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "telegram data expired, reopen the app", "code": "init_data_stale"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid telegram data", "code": "unauthorized"})
			return
		}

		parsed, err := telegram.ParseUser(values)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user", "code": "bad_request"})
			return
		}
		tu = parsed
	}

	user, err := h.findOrCreateUser(c.Request.Context(), tu)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user", "code": "internal"})
		return
	}

	token, err := service.GenerateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed", "code": "internal"})
		return
	}

	if h.Audit != nil {
		h.Audit.LogLogin(c.Request.Context(), user.ID, c.ClientIP(), c.Request.UserAgent())
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  userJSONView(user),
	})
}

func (h *Handler) findOrCreateUser(ctx context.Context, tu *telegram.WebAppUser) (*domain.User, error) {
	user, err := h.Users.GetByTgID(ctx, tu.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user = &domain.User{
		TgID:      tu.ID,
		Username:  tu.Username,
		FirstName: tu.FirstName,
	}
	if err := h.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// devUser парсит id из init_data вида `user={"id":123}` или использует дефолт
func devUser(initData string) *telegram.WebAppUser {
	id := int64(12345)

	raw := initData
	if values, err := url.ParseQuery(initData); err == nil && values.Get("user") != "" {
		raw = values.Get("user")
	}
	if i := strings.Index(raw, `"id":`); i >= 0 {
		start := i + len(`"id":`)
		end := start
		for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
			end++
		}
		if parsed, err := strconv.ParseInt(raw[start:end], 10, 64); err == nil {
			id = parsed
		}
	}

	return &telegram.WebAppUser{
		ID:        id,
		Username:  fmt.Sprintf("testuser%d", id),
		FirstName: "Test",
	}
}

func userJSONView(u *domain.User) gin.H {
	return gin.H{
		"id":           u.ID,
		"tg_id":        u.TgID,
		"username":     u.Username,
		"first_name":   u.FirstName,
		"display_name": u.DisplayName(),
		"gems":         u.Gems,
	}
}
