package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeepalive = 25 * time.Second
	DefaultQueueSize = 64

	keepaliveFrame = ":keepalive\n\n"
)

type Options struct {
	KeepaliveInterval time.Duration
	QueueSize         int
	// UserPath 是未设置用户名时的重定向地址。
	UserPath string
}

// stream 是单个 SSE 连接的发送队列。总线监听器只做非阻塞入队，
// 队列满时标记溢出，由连接自己的 goroutine 结束连接。
type stream struct {
	id           string
	queue        chan chat.Message
	overflow     chan struct{}
	overflowOnce sync.Once
}

func newStream(size int) *stream {
	return &stream{
		id:       uuid.NewString(),
		queue:    make(chan chat.Message, size),
		overflow: make(chan struct{}),
	}
}

func (s *stream) enqueue(msg chat.Message) error {
	select {
	case s.queue <- msg:
		return nil
	default:
		s.overflowOnce.Do(func() { close(s.overflow) })
		return chat.ErrSlowConsumer
	}
}

// Handler 返回 GET /chat/stream 的处理函数。
func Handler(svc *chat.Service, opts Options) gin.HandlerFunc {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepalive
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.UserPath == "" {
		opts.UserPath = "/chat/user"
	}
	return func(c *gin.Context) {
		username := auth.GetUsername(c)
		if username == "" {
			c.Redirect(http.StatusSeeOther, opts.UserPath)
			return
		}

		s := newStream(opts.QueueSize)
		logger := log.With().Str("conn_id", s.id).Str("username", username).Logger()

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		conn, err := svc.Open(c.Request.Context(), username, s.enqueue)
		if err != nil {
			logger.Info().Err(err).Msg("stream not opened")
			return
		}
		defer conn.Close()
		logger.Info().Msg("stream open")

		ticker := time.NewTicker(opts.KeepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-conn.Done():
				logger.Info().Msg("stream closed")
				return
			case <-s.overflow:
				metrics.StreamOverflowTotal.WithLabelValues("sse").Inc()
				logger.Warn().Msg("stream queue full, closing")
				return
			case msg := <-s.queue:
				if closed(conn) {
					return
				}
				frame, err := encodeEvent(msg)
				if err != nil {
					logger.Error().Err(err).Str("kind", msg.Type.String()).Msg("encode event")
					continue
				}
				if _, err := c.Writer.Write(frame); err != nil {
					logger.Debug().Err(err).Msg("write event")
					return
				}
				c.Writer.Flush()
			case <-ticker.C:
				if closed(conn) {
					return
				}
				if _, err := io.WriteString(c.Writer, keepaliveFrame); err != nil {
					logger.Debug().Err(err).Msg("write keepalive")
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

func closed(conn *chat.Conn) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

// encodeEvent 按 "event: <name>\ndata: <json>\n\n" 编码一条事件。
func encodeEvent(msg chat.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, data)), nil
}
