package chat

import (
	"fmt"
	"time"
)

// Kind 是聊天事件的封闭枚举，零值无效。
type Kind uint8

const (
	KindNewMessage Kind = iota + 1
	KindUserJoin
	KindUserLeave
)

// Kinds 列出全部事件类型，Stream 连接按此顺序订阅。
var Kinds = [...]Kind{KindNewMessage, KindUserJoin, KindUserLeave}

var kindNames = map[Kind]string{
	KindNewMessage: "newmessage",
	KindUserJoin:   "userjoin",
	KindUserLeave:  "userleave",
}

// String 返回事件在 SSE 线路上的名字。
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind 把线路上的事件名解析为 Kind。
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Message 是总线上传递的聊天事件，构造后不再修改。
// 只有 newmessage 携带 content，加入/离开事件的 content 为空。
type Message struct {
	Username  string    `json:"username"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Type      Kind      `json:"type"`
}

func NewChatMessage(username, content string, at time.Time) Message {
	return Message{Username: username, Content: content, CreatedAt: at, Type: KindNewMessage}
}

func NewJoin(username string, at time.Time) Message {
	return Message{Username: username, CreatedAt: at, Type: KindUserJoin}
}

func NewLeave(username string, at time.Time) Message {
	return Message{Username: username, CreatedAt: at, Type: KindUserLeave}
}

// Validate 校验 content 与 type 的对应关系。
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(m.Type))
	}
	if m.Type == KindNewMessage && m.Content == "" {
		return fmt.Errorf("%w: newmessage without content", ErrMalformedMessage)
	}
	if m.Type != KindNewMessage && m.Content != "" {
		return fmt.Errorf("%w: %s with content", ErrMalformedMessage, m.Type)
	}
	return nil
}
