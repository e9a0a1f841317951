package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type Options struct {
	Env       string
	QueueSize int
	UserPath  string
}

// Client 是一个 WebSocket 连接，与 SSE 共用同一套 chat.Conn 生命周期。
type Client struct {
	id           string
	conn         *websocket.Conn
	svc          *chat.Service
	uname        string
	send         chan chat.Message
	replies      chan []byte
	overflow     chan struct{}
	overflowOnce sync.Once
	log          zerolog.Logger
}

// InboundMessage 是客户端发来的消息，按 POST /chat 的规则校验。
type InboundMessage struct {
	Message string `json:"message"`
}

// OutboundFrame 与 SSE 的 event/data 一一对应。
type OutboundFrame struct {
	Event string        `json:"event"`
	Data  *chat.Message `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

func newUpgrader(env string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if env == "dev" {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// Serve 返回 GET /chat/ws 的处理函数。
func Serve(svc *chat.Service, opts Options) gin.HandlerFunc {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.UserPath == "" {
		opts.UserPath = "/chat/user"
	}
	upgrader := newUpgrader(opts.Env)
	return func(c *gin.Context) {
		username := auth.GetUsername(c)
		if username == "" {
			c.Redirect(http.StatusSeeOther, opts.UserPath)
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Str("username", username).Msg("ws upgrade")
			return
		}
		id := uuid.NewString()
		client := &Client{
			id:       id,
			conn:     conn,
			svc:      svc,
			uname:    username,
			send:     make(chan chat.Message, opts.QueueSize),
			replies:  make(chan []byte, 8),
			overflow: make(chan struct{}),
			log:      log.With().Str("conn_id", id).Str("username", username).Str("transport", "ws").Logger(),
		}

		// 连接被劫持后请求 ctx 不再可靠，生命周期由 readPump 控制
		ctx, cancel := context.WithCancel(context.Background())
		chatConn, err := svc.Open(ctx, username, client.enqueue)
		if err != nil {
			cancel()
			_ = conn.Close()
			return
		}
		go client.writePump(chatConn)
		client.readPump(ctx, cancel, chatConn)
	}
}

func (c *Client) enqueue(msg chat.Message) error {
	select {
	case c.send <- msg:
		return nil
	default:
		c.overflowOnce.Do(func() { close(c.overflow) })
		return chat.ErrSlowConsumer
	}
}

func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc, chatConn *chat.Conn) {
	defer func() {
		cancel()
		chatConn.Close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(OutboundFrame{Event: "error", Error: "invalid payload"})
			continue
		}
		if _, err := c.svc.Post(ctx, c.uname, in.Message); err != nil {
			c.reply(OutboundFrame{Event: "error", Error: err.Error()})
		}
	}
}

func (c *Client) reply(f OutboundFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.replies <- b:
	default:
		c.log.Warn().Msg("drop reply")
	}
}

func (c *Client) writePump(chatConn *chat.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-chatConn.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-c.overflow:
			metrics.StreamOverflowTotal.WithLabelValues("ws").Inc()
			c.log.Warn().Msg("ws queue full, closing")
			return
		case msg := <-c.send:
			m := msg
			b, err := json.Marshal(OutboundFrame{Event: msg.Type.String(), Data: &m})
			if err != nil {
				c.log.Error().Err(err).Msg("encode frame")
				continue
			}
			if err := c.write(b); err != nil {
				return
			}
		case b := <-c.replies:
			if err := c.write(b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
