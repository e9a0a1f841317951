package chat

import (
	"fmt"
	"sync"

	"github.com/Tassadaritze/tassad-site-remix/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Listener 在 Publish 的调用方 goroutine 上同步执行，不能阻塞，也不能再次 Publish。
type Listener func(Message) error

// Handle 标识一次订阅，用于 Unsubscribe。零值 Handle 不对应任何订阅。
type Handle struct {
	kind Kind
	id   uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Bus 是进程内的聊天事件总线，按 Kind 同步扇出。
// Publish 之间互斥，因此每个订阅者看到的是同一个全序。
type Bus struct {
	pubMu sync.Mutex

	mu   sync.RWMutex
	subs map[Kind][]listenerEntry
	next uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]listenerEntry, len(Kinds))}
}

// Subscribe 注册某类事件的监听器。
func (b *Bus) Subscribe(kind Kind, fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[kind] = append(b.subs[kind], listenerEntry{id: b.next, fn: fn})
	return Handle{kind: kind, id: b.next}
}

// Unsubscribe 幂等，重复调用或句柄已失效时什么也不做。
func (b *Bus) Unsubscribe(h Handle) {
	if h.id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[h.kind]
	for i, e := range entries {
		if e.id == h.id {
			// 复制而不是原地修改，Publish 可能正在遍历旧切片
			next := make([]listenerEntry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			b.subs[h.kind] = next
			return
		}
	}
}

// Publish 把消息同步投递给当前所有该类型的监听器。
// 单个监听器返回错误或 panic 不影响其他监听器。
func (b *Bus) Publish(msg Message) {
	if !msg.Type.Valid() {
		log.Warn().Uint8("kind", uint8(msg.Type)).Msg("publish with invalid kind")
		return
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	entries := b.subs[msg.Type]
	b.mu.RUnlock()

	for _, e := range entries {
		if err := invoke(e.fn, msg); err != nil {
			metrics.BusListenerFailures.WithLabelValues(msg.Type.String()).Inc()
			log.Warn().Err(err).Str("kind", msg.Type.String()).Uint64("listener", e.id).Msg("listener failed")
		}
	}
}

// Len 返回某类事件当前的监听器数量。
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func invoke(fn Listener, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(msg)
}
