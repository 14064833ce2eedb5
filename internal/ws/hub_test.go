package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"packmarket/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestNotifyWithoutConnectionsIsNoop(t *testing.T) {
	h := NewHub()
	h.Notify(1, "purchase_completed", map[string]int{"cards": 5})
	if h.Online(1) != 0 {
		t.Fatal("phantom connection")
	}
}

func TestNotifyDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	c := &Client{UserID: 1, Send: make(chan []byte, 1), Hub: h}
	h.Register(c)

	done := make(chan struct{})
	go func() {
		h.Notify(1, "a", nil)
		h.Notify(1, "b", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full buffer")
	}

	var ev Event
	if err := json.Unmarshal(<-c.Send, &ev); err != nil || ev.Type != "a" {
		t.Fatalf("event = %+v, %v", ev, err)
	}

	h.Unregister(c)
	h.Unregister(c)
	if h.Online(1) != 0 {
		t.Fatal("client still registered")
	}
}

func TestEventStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service.InitJWT("ws-test-secret")
	token, err := service.GenerateJWT(42)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	hub := NewHub()
	r := gin.New()
	r.GET("/ws", HandleWS(hub, ""))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != MsgReady {
		t.Fatalf("first event = %+v, %v", ev, err)
	}

	hub.Notify(42, "level_up", map[string]int{"level": 3})
	hub.Notify(7, "level_up", map[string]int{"level": 9})

	var got struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "level_up" || got.Data["level"] != 3 {
		t.Fatalf("event = %+v", got)
	}

	if err := conn.WriteJSON(map[string]string{"type": MsgPing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != MsgPong {
		t.Fatalf("pong = %+v, %v", ev, err)
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", HandleWS(NewHub(), ""))

	for _, path := range []string{"/ws", "/ws?token=garbage"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
	}
}
