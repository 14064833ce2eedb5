// create_test_user creates (or finds) a player, tops up their gems and
// prints a session token for manual API testing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"packmarket/internal/config"
	"packmarket/internal/db"
	"packmarket/internal/domain"
	"packmarket/internal/logger"
	"packmarket/internal/repository"
	"packmarket/internal/service"
)

func main() {
	tgID := flag.Int64("tg", 1234567890, "telegram id of the test user")
	username := flag.String("username", "testuser", "username for a new user")
	gems := flag.Int64("gems", 0, "gems to credit to the user")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	service.InitJWT(cfg.JWTSecret)

	pool := db.Connect(cfg.DatabaseURL, cfg.Pool())
	defer pool.Close()

	repo := repository.NewUserRepository(pool)
	ctx := context.Background()

	u, err := repo.GetByTgID(ctx, *tgID)
	switch {
	case err == nil:
		logger.Info("user already exists", "user_id", u.ID)
	case errors.Is(err, repository.ErrNotFound):
		u = &domain.User{TgID: *tgID, Username: *username, FirstName: "Tester"}
		if err := repo.Create(ctx, u); err != nil {
			logger.Fatal("create user failed", "error", err)
		}
		logger.Info("user created", "user_id", u.ID)
	default:
		logger.Fatal("lookup user failed", "error", err)
	}

	if *gems > 0 {
		balance := service.NewBalanceService(pool)
		newBalance, err := balance.Credit(ctx, u.ID, *gems, domain.TxTopUp, map[string]interface{}{"source": "create_test_user"})
		if err != nil {
			logger.Fatal("credit gems failed", "error", err)
		}
		logger.Info("gems credited", "user_id", u.ID, "balance", newBalance)
	}

	token, err := service.GenerateJWT(u.ID)
	if err != nil {
		logger.Fatal("failed to generate token", "error", err)
	}
	fmt.Println(token)
}
