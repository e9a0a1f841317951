package chat

import (
	"sync"
	"sync/atomic"

	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"
)

// State 是单个流连接的生命周期状态。
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn 持有一个客户端连接在总线上的全部资源，由 Close 统一释放且只释放一次。
type Conn struct {
	svc      *Service
	username string
	handles  [len(Kinds)]Handle
	state    atomic.Int32
	once     sync.Once
	done     chan struct{}
}

func (c *Conn) Username() string { return c.username }

func (c *Conn) State() State { return State(c.state.Load()) }

// Done 在 Close 完成后关闭，传输层据此停止写入。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 执行 Open → Closing → Closed：撤销订阅、移出名单、广播 userleave。
// 可以并发或重复调用。不能在 Listener 内部调用。
func (c *Conn) Close() {
	c.once.Do(func() {
		c.state.Store(int32(StateClosing))
		c.unsubscribe()
		c.svc.roster.Remove(c.username)
		c.svc.mu.Lock()
		delete(c.svc.conns, c)
		c.svc.mu.Unlock()
		metrics.StreamConnections.Dec()
		c.svc.bus.Publish(NewLeave(c.username, c.svc.opts.Now()))
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

func (c *Conn) unsubscribe() {
	for _, h := range c.handles {
		c.svc.bus.Unsubscribe(h)
	}
}
