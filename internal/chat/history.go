package chat

import (
	"context"
	"sync"
)

// DefaultHistorySize 是保留的最近消息条数。
const DefaultHistorySize = 100

// History 保存最近的聊天消息，用于新页面加载时回填。
// Recent 按时间升序返回。
type History interface {
	Append(ctx context.Context, msg Message) error
	Recent(ctx context.Context, limit int) ([]Message, error)
}

// MemoryHistory 是定长环形缓冲，满了以后先淘汰最旧的消息。
type MemoryHistory struct {
	mu    sync.RWMutex
	buf   []Message
	start int
	size  int
}

func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &MemoryHistory{buf: make([]Message, capacity)}
}

func (h *MemoryHistory) Append(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = msg
		h.size++
		return nil
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
	return nil
}

// Recent 返回最多 limit 条最新消息；limit <= 0 表示全部。
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out, nil
}

func (h *MemoryHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *MemoryHistory) Cap() int { return len(h.buf) }
