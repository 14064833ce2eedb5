package domain

import (
	"fmt"
	"strings"
	"time"
)

// User - аккаунт игрока, привязанный к telegram id. Gems - баланс, которым
// оплачиваются паки.
type User struct {
	ID        int64     `db:"id" json:"id"`
	TgID      int64     `db:"tg_id" json:"tg_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Gems      int64     `db:"gems" json:"gems"`
}

// DisplayName is how the user shows up on leaderboards and pack pages:
// @username, else the first name, else the telegram id.
func (u *User) DisplayName() string {
	if name := strings.TrimSpace(u.Username); name != "" {
		return "@" + strings.TrimPrefix(name, "@")
	}
	if name := strings.TrimSpace(u.FirstName); name != "" {
		return name
	}
	return fmt.Sprintf("id%d", u.TgID)
}
