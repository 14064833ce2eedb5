package telegram

import (
	"encoding/json"
	"errors"
	"net/url"
)

var ErrNoUser = errors.New("init data has no user")

// WebAppUser - поле user из initData мини-приложения
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// ParseUser reads the user object from already validated init data values.
func ParseUser(values url.Values) (*WebAppUser, error) {
	raw := values.Get("user")
	if raw == "" {
		return nil, ErrNoUser
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, ErrNoUser
	}
	return &user, nil
}
