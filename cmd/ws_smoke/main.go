// ws_smoke connects a test player to the event stream of a running server,
// claims the daily reward over HTTP and prints every event that arrives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"packmarket/internal/config"
	"packmarket/internal/db"
	"packmarket/internal/domain"
	"packmarket/internal/logger"
	"packmarket/internal/repository"
	"packmarket/internal/service"
	"packmarket/internal/ws"

	"github.com/gorilla/websocket"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	service.InitJWT(cfg.JWTSecret)

	pool := db.Connect(cfg.DatabaseURL, cfg.Pool())
	defer pool.Close()

	ur := repository.NewUserRepository(pool)
	ctx := context.Background()

	u, err := ur.GetByTgID(ctx, 3001)
	if errors.Is(err, repository.ErrNotFound) {
		u = &domain.User{TgID: 3001, Username: "smoke", FirstName: "Smoke"}
		err = ur.Create(ctx, u)
	}
	if err != nil {
		logger.Fatal("prepare user", "error", err)
	}

	token, err := service.GenerateJWT(u.ID)
	if err != nil {
		logger.Fatal("generate token", "error", err)
	}

	// use 127.0.0.1 to prefer IPv4 (avoid resolving to [::1])
	base := "127.0.0.1:" + cfg.AppPort
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws?token=%s", base, token), nil)
	if err != nil {
		logger.Fatal("dial", "error", err)
	}
	defer conn.Close()

	expect(conn, ws.MsgReady)

	if err := conn.WriteJSON(map[string]string{"type": ws.MsgPing}); err != nil {
		logger.Fatal("send ping", "error", err)
	}
	expect(conn, ws.MsgPong)

	req, _ := http.NewRequest(http.MethodPost, "http://"+base+"/api/v1/season/daily", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Fatal("claim daily", "error", err)
	}
	res.Body.Close()
	logger.Info("daily claim", "status", res.StatusCode)

	// drain whatever the claim produced (level_up on first claims)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev ws.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		printEvent(ev)
	}
	logger.Info("smoke finished")
}

func expect(conn *websocket.Conn, typ string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev ws.Event
	if err := conn.ReadJSON(&ev); err != nil {
		logger.Fatal("read event", "want", typ, "error", err)
	}
	if ev.Type != typ {
		logger.Fatal("unexpected event", "want", typ, "got", ev.Type)
	}
	printEvent(ev)
}

func printEvent(ev ws.Event) {
	data, _ := json.Marshal(ev.Data)
	fmt.Printf("%s %s %s\n", ev.At.Format(time.RFC3339), ev.Type, data)
}
