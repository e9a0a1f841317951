package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newServer(t *testing.T) (*chat.Service, *auth.Sessions, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(nil, chat.Options{MaxMessageLength: 10})
	sessions := auth.NewSessions(config.Config{SessionSecret: "test-secret", SessionTTLHours: 1})
	r := gin.New()
	r.Use(sessions.Middleware())
	r.GET("/chat/ws", Serve(svc, Options{Env: "dev"}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(svc.Shutdown)
	return svc, sessions, srv
}

func dial(t *testing.T, srv *httptest.Server, sessions *auth.Sessions, username string) *websocket.Conn {
	t.Helper()
	token, err := sessions.Encode(auth.Claims{Username: username})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	header := http.Header{}
	header.Set("Cookie", auth.SessionCookie+"="+token)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f OutboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func TestServe_JoinAndMessage(t *testing.T) {
	_, sessions, srv := newServer(t)
	conn := dial(t, srv, sessions, "alice")

	f := readFrame(t, conn)
	if f.Event != "userjoin" || f.Data == nil || f.Data.Username != "alice" {
		t.Fatalf("first frame = %+v, want userjoin alice", f)
	}

	if err := conn.WriteJSON(InboundMessage{Message: "hi there"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	f = readFrame(t, conn)
	if f.Event != "newmessage" || f.Data.Content != "hi there" {
		t.Errorf("frame = %+v, want newmessage 'hi there'", f)
	}
}

func TestServe_RejectedMessage(t *testing.T) {
	svc, sessions, srv := newServer(t)
	conn := dial(t, srv, sessions, "alice")
	readFrame(t, conn)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"too long", `{"message":"01234567890"}`, chat.ErrMessageTooLong.Error()},
		{"empty", `{"message":""}`, chat.ErrEmptyMessage.Error()},
		{"invalid json", `nope`, "invalid payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			f := readFrame(t, conn)
			if f.Event != "error" || f.Error != tt.want {
				t.Errorf("frame = %+v, want error %q", f, tt.want)
			}
		})
	}

	snap, _ := svc.Hydrate(context.Background())
	if len(snap.Messages) != 0 {
		t.Errorf("history len = %d, want 0", len(snap.Messages))
	}
}

func TestServe_LeaveOnDisconnect(t *testing.T) {
	svc, sessions, srv := newServer(t)
	alice := dial(t, srv, sessions, "alice")
	readFrame(t, alice)

	bob := dial(t, srv, sessions, "bob")
	if f := readFrame(t, alice); f.Event != "userjoin" || f.Data.Username != "bob" {
		t.Fatalf("frame = %+v, want userjoin bob", f)
	}
	bob.Close()

	f := readFrame(t, alice)
	if f.Event != "userleave" || f.Data.Username != "bob" {
		t.Fatalf("frame = %+v, want userleave bob", f)
	}
	if got := svc.Roster().Snapshot(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("roster = %v, want [alice]", got)
	}
}

func TestServe_RedirectWithoutUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/chat/ws", Serve(chat.NewService(nil, chat.Options{}), Options{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/ws", nil))
	if w.Code != http.StatusSeeOther {
		t.Errorf("expected 303, got %d", w.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		origin string
		want   bool
	}{
		{"dev allows all", "dev", "http://evil.example", true},
		{"prod same host", "prod", "https://example.com", true},
		{"prod other host", "prod", "https://evil.example", false},
		{"prod no origin", "prod", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpgrader(tt.env)
			req := httptest.NewRequest(http.MethodGet, "http://example.com/chat/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := up.CheckOrigin(req); got != tt.want {
				t.Errorf("CheckOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
