package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"crt-trading-engine/internal/auth"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/session"
)

func newTestServer(t *testing.T, tokens *auth.TokenManager) (*Server, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewEventBus()
	mgr := session.NewManager()
	s := session.New("main", session.DefaultConfig(), 1000, session.Deps{
		Gateway: binance.NewPaperGateway(1000),
		Bus:     bus,
	})
	if err := mgr.Add(s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	srv := NewServer(ServerConfig{ProductionMode: true, CommandTimeout: time.Second}, mgr, bus, tokens)
	return srv, mgr
}

func do(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthAndList(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := do(srv, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = do(srv, http.MethodGet, "/api/sessions", "", "")
	var resp struct {
		Data []sessionSummary `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Session != "main" || resp.Data[0].Pair != "BTCUSDT" {
		t.Errorf("Expected the main BTCUSDT session, got %+v", resp.Data)
	}
}

func TestSnapshotLookup(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/sessions/main/snapshot", http.StatusOK},
		{"/api/sessions/btcusdt/snapshot", http.StatusOK},
		{"/api/sessions/DOGEUSDT/snapshot", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := do(srv, http.MethodGet, tt.path, "", ""); w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}

func TestCommands(t *testing.T) {
	srv, mgr := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing type", `{}`, http.StatusBadRequest},
		{"malformed", `{"type":`, http.StatusBadRequest},
		{"unknown", `{"type":"selfDestruct"}`, http.StatusBadRequest},
		{"bad interval", `{"type":"changeInterval","interval":"7m"}`, http.StatusBadRequest},
		{"bad leverage", `{"type":"updateSettings","settings":{"leverage":500}}`, http.StatusBadRequest},
		{"no position", `{"type":"manualClose"}`, http.StatusOK},
		{"missing pair", `{"type":"changePair"}`, http.StatusBadRequest},
		{"bad breaker limit", `{"type":"updateSettings","settings":{"maxDrawdownPercent":0}}`, http.StatusBadRequest},
		{"stop", `{"type":"stop"}`, http.StatusOK},
		{"toggle", `{"type":"toggleAutoTrading","enabled":true}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, http.MethodPost, "/api/sessions/main/commands", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	s, _ := mgr.Get("main")
	if !s.Lifecycle().AutoTrading() {
		t.Errorf("Expected auto-trading enabled after toggle")
	}
}

func TestCommandsRequireToken(t *testing.T) {
	tokens := auth.NewTokenManager("api-secret", time.Hour)
	srv, _ := newTestServer(t, tokens)
	viewer, _ := tokens.Issue("viewer", false)
	operator, _ := tokens.Issue("ops", true)
	body := `{"type":"toggleAutoTrading"}`

	if w := do(srv, http.MethodPost, "/api/sessions/main/commands", body, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/sessions/main/commands", body, viewer); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for read-only token, got %d", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/sessions/main/commands", body, operator); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for operator token, got %d", w.Code)
	}
	// reads stay open
	if w := do(srv, http.MethodGet, "/api/sessions/main/snapshot", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected snapshot without token, got %d", w.Code)
	}
}

func TestCommandRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := session.NewManager()
	mgr.Add(session.New("main", session.DefaultConfig(), 1000, session.Deps{}))
	srv := NewServer(ServerConfig{ProductionMode: true, CommandRate: 2}, mgr, nil, nil)

	var last int
	for i := 0; i < 3; i++ {
		last = do(srv, http.MethodPost, "/api/sessions/main/commands", `{"type":"toggleAutoTrading"}`, "").Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected 429 on the third command, got %d", last)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	if !rl.Allow("a") {
		t.Fatalf("Expected first request allowed")
	}
	if rl.Allow("a") {
		t.Errorf("Expected second request blocked")
	}
	if !rl.Allow("b") {
		t.Errorf("Expected other keys unaffected")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("a") {
		t.Errorf("Expected request allowed after the window")
	}
}

func TestWebSocketInitAndCommand(t *testing.T) {
	srv, mgr := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=main"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var init session.Snapshot
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("Failed to read INIT: %v", err)
	}
	if init.Type != session.SnapshotInit || init.Session != "main" {
		t.Errorf("Expected INIT for main, got %s/%s", init.Type, init.Session)
	}

	err = conn.WriteJSON(map[string]interface{}{
		"type":    "COMMAND",
		"command": map[string]interface{}{"type": "toggleAutoTrading", "enabled": true},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// a snapshot may arrive before the result
	for {
		var msg struct {
			Type string                `json:"type"`
			Data session.CommandResult `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read result: %v", err)
		}
		if msg.Type != MsgCommandResult {
			continue
		}
		if !msg.Data.OK {
			t.Errorf("Expected command applied, got %+v", msg.Data)
		}
		break
	}

	s, _ := mgr.Get("main")
	if !s.Lifecycle().AutoTrading() {
		t.Errorf("Expected auto-trading enabled over websocket")
	}
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	w := do(srv, http.MethodGet, "/ws?session=NOPEUSDT", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}
}
