package chat

import "sync"

// Roster 记录当前在线的用户名，按连接顺序排列，允许重名。
type Roster struct {
	mu    sync.Mutex
	names []string
}

func NewRoster() *Roster { return &Roster{} }

func (r *Roster) Add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

// Remove 只删除第一个匹配项，重名的其他连接保持在线。
func (r *Roster) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot 返回当前名单的副本。
func (r *Roster) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
