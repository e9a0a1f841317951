package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxMessageLength  = 1869
	DefaultUsernameMaxLength = 32
)

// Options 是 Service 的可调参数，零值字段使用默认值。
type Options struct {
	MaxMessageLength  int
	MaxMessageHistory int
	UsernameMaxLength int
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = DefaultMaxMessageLength
	}
	if o.MaxMessageHistory <= 0 {
		o.MaxMessageHistory = DefaultHistorySize
	}
	if o.UsernameMaxLength <= 0 {
		o.UsernameMaxLength = DefaultUsernameMaxLength
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Service 聚合总线、在线名单与历史记录，进程启动时创建一次并注入给所有 handler。
type Service struct {
	bus     *Bus
	roster  *Roster
	history History
	opts    Options

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewService(history History, opts Options) *Service {
	opts = opts.withDefaults()
	if history == nil {
		history = NewMemoryHistory(opts.MaxMessageHistory)
	}
	return &Service{
		bus:     NewBus(),
		roster:  NewRoster(),
		history: history,
		opts:    opts,
		conns:   make(map[*Conn]struct{}),
	}
}

func (s *Service) Bus() *Bus        { return s.bus }
func (s *Service) Roster() *Roster  { return s.roster }
func (s *Service) Options() Options { return s.opts }

// Post 校验并发布一条新消息。内容不做 trim，长度按 Unicode 码点计算。
func (s *Service) Post(ctx context.Context, username, content string) (Message, error) {
	if username == "" {
		return Message{}, s.reject(ErrNoUsername, username, "no_username")
	}
	n := utf8.RuneCountInString(content)
	if n < 1 {
		return Message{}, s.reject(ErrEmptyMessage, username, "empty")
	}
	if n > s.opts.MaxMessageLength {
		return Message{}, s.reject(ErrMessageTooLong, username, "too_long")
	}

	msg := NewChatMessage(username, content, s.opts.Now())
	if err := s.history.Append(ctx, msg); err != nil {
		// 历史持久化失败不影响实时广播
		log.Error().Err(err).Str("username", username).Msg("append history")
	}
	s.bus.Publish(msg)
	metrics.MessagesTotal.Inc()
	return msg, nil
}

func (s *Service) reject(err error, username, reason string) error {
	metrics.MessagesRejected.WithLabelValues(reason).Inc()
	log.Info().Err(err).Str("username", username).Msg("message rejected")
	return err
}

// Snapshot 是页面首次加载时的初始状态。
type Snapshot struct {
	Messages []Message `json:"messages"`
	Users    []string  `json:"users"`
}

// Hydrate 返回最近 N 条消息（升序）和当前在线名单。
func (s *Service) Hydrate(ctx context.Context) (Snapshot, error) {
	msgs, err := s.history.Recent(ctx, s.opts.MaxMessageHistory)
	if err != nil {
		return Snapshot{}, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return Snapshot{Messages: msgs, Users: s.roster.Snapshot()}, nil
}

// ValidateUsername 对用户名做 trim 并检查长度，返回规范化后的用户名。
func (s *Service) ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyUsername
	}
	if utf8.RuneCountInString(name) > s.opts.UsernameMaxLength {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

// Open 完成 Connecting → Open：订阅三类事件、加入名单、广播 userjoin。
// ctx 取消后连接自动关闭；若订阅完成时 ctx 已取消，则撤销订阅并返回 ErrConnectionAborted，
// 不会写入名单，也不会广播任何加入/离开事件。
func (s *Service) Open(ctx context.Context, username string, fn Listener) (*Conn, error) {
	if username == "" {
		return nil, ErrNoUsername
	}
	c := &Conn{svc: s, username: username, done: make(chan struct{})}
	c.state.Store(int32(StateConnecting))
	for i, k := range Kinds {
		c.handles[i] = s.bus.Subscribe(k, fn)
	}
	if ctx.Err() != nil {
		c.unsubscribe()
		c.state.Store(int32(StateClosed))
		close(c.done)
		return nil, ErrConnectionAborted
	}

	s.roster.Add(username)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.state.Store(int32(StateOpen))
	metrics.StreamConnections.Inc()
	s.bus.Publish(NewJoin(username, s.opts.Now()))

	context.AfterFunc(ctx, c.Close)
	return c, nil
}

// Shutdown 由服务端主动关闭所有连接，用于优雅停服。
func (s *Service) Shutdown() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Online 返回当前打开的连接数。
func (s *Service) Online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
