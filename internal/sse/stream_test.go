package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc      *chat.Service
	sessions *auth.Sessions
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, keepalive time.Duration) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(nil, chat.Options{})
	sessions := auth.NewSessions(config.Config{SessionSecret: "test-secret", SessionTTLHours: 1})
	r := gin.New()
	r.Use(sessions.Middleware())
	r.GET("/chat/stream", Handler(svc, Options{KeepaliveInterval: keepalive, QueueSize: 16}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(svc.Shutdown)
	return &testEnv{svc: svc, sessions: sessions, srv: srv}
}

func (e *testEnv) open(t *testing.T, username string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/chat/stream", nil)
	require.NoError(t, err)
	token, err := e.sessions.Encode(auth.Claims{Username: username})
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return resp, cancel
}

func frames(resp *http.Response) <-chan Frame {
	ch := make(chan Frame, 64)
	go func() {
		defer close(ch)
		r := NewReader(resp.Body)
		for {
			f, err := r.Next()
			if err != nil {
				return
			}
			ch <- f
		}
	}()
	return ch
}

func nextEvent(t *testing.T, ch <-chan Frame) (Frame, chat.Message) {
	t.Helper()
	for {
		select {
		case f, ok := <-ch:
			require.True(t, ok, "stream ended")
			if f.IsComment() {
				continue
			}
			msg, err := chat.DecodeEvent(f.Event, []byte(f.Data))
			require.NoError(t, err)
			return f, msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHandler_RedirectsWithoutUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(nil, chat.Options{})
	r := gin.New()
	r.GET("/chat/stream", Handler(svc, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/chat/user", w.Header().Get("Location"))
	assert.Equal(t, 0, svc.Online())
}

func TestHandler_WireFormat(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	resp, _ := env.open(t, "alice")
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: userjoin\n", line)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	var msg chat.Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")), &msg))
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, chat.KindUserJoin, msg.Type)
	assert.Empty(t, msg.Content)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\n", line)

	_, err = env.svc.Post(context.Background(), "alice", "hello\nworld")
	require.NoError(t, err)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: newmessage\n", line)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"content":"hello\nworld"`)
}

func TestHandler_Keepalive(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	resp, _ := env.open(t, "alice")
	ch := frames(resp)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			require.True(t, ok)
			if f.IsComment() {
				assert.Equal(t, "keepalive", f.Comment)
				return
			}
		case <-deadline:
			t.Fatal("no keepalive received")
		}
	}
}

func TestHandler_JoinLeaveVisibleToOthers(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	aliceResp, _ := env.open(t, "alice")
	alice := frames(aliceResp)
	_, msg := nextEvent(t, alice)
	require.Equal(t, chat.NewJoin("alice", msg.CreatedAt), msg)

	bobResp, cancelBob := env.open(t, "bob")
	bob := frames(bobResp)
	f, msg := nextEvent(t, alice)
	assert.Equal(t, "userjoin", f.Event)
	assert.Equal(t, "bob", msg.Username)
	_, msg = nextEvent(t, bob)
	assert.Equal(t, "bob", msg.Username)

	require.Eventually(t, func() bool { return env.svc.Roster().Len() == 2 }, time.Second, 5*time.Millisecond)

	cancelBob()
	f, msg = nextEvent(t, alice)
	assert.Equal(t, "userleave", f.Event)
	assert.Equal(t, "bob", msg.Username)
	assert.Equal(t, []string{"alice"}, env.svc.Roster().Snapshot())
	assert.Equal(t, 1, env.svc.Online())
}

func TestHandler_RosterConvergesOnClient(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	aliceResp, cancelAlice := env.open(t, "alice")
	nextEvent(t, frames(aliceResp))

	snap, err := env.svc.Hydrate(context.Background())
	require.NoError(t, err)
	view := chat.NewView(snap)
	require.Equal(t, []string{"alice"}, view.Users)

	carolResp, _ := env.open(t, "carol")
	carol := frames(carolResp)
	nextEvent(t, carol)

	bobResp, _ := env.open(t, "bob")
	nextEvent(t, frames(bobResp))
	cancelAlice()

	for i := 0; i < 2; i++ {
		f, _ := nextEvent(t, carol)
		require.NoError(t, view.Apply(f.Event, []byte(f.Data)))
	}
	assert.Equal(t, []string{"bob"}, view.Users)
}

func TestHandler_ShutdownEndsStream(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	resp, _ := env.open(t, "alice")
	ch := frames(resp)
	nextEvent(t, ch)

	env.svc.Shutdown()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not ended by shutdown")
	}
	assert.Equal(t, 0, env.svc.Online())
	assert.Empty(t, env.svc.Roster().Snapshot())
}

func TestStream_Overflow(t *testing.T) {
	s := newStream(1)
	at := time.Now()
	require.NoError(t, s.enqueue(chat.NewJoin("a", at)))
	assert.ErrorIs(t, s.enqueue(chat.NewJoin("b", at)), chat.ErrSlowConsumer)
	assert.ErrorIs(t, s.enqueue(chat.NewJoin("c", at)), chat.ErrSlowConsumer)

	select {
	case <-s.overflow:
	default:
		t.Fatal("overflow not signalled")
	}
}

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := encodeEvent(chat.NewChatMessage("alice", "hi", at))
	require.NoError(t, err)
	assert.Equal(t,
		"event: newmessage\ndata: {\"username\":\"alice\",\"content\":\"hi\",\"createdAt\":\"2024-01-02T03:04:05Z\",\"type\":\"newmessage\"}\n\n",
		string(b))

	_, err = encodeEvent(chat.Message{Username: "x"})
	assert.Error(t, err)
}
