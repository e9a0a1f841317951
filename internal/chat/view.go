package chat

import (
	"encoding/json"
	"fmt"
)

// View 是客户端对聊天室状态的增量视图：从 Snapshot 出发，按到达顺序应用流事件。
type View struct {
	Messages []Message
	Users    []string
}

func NewView(s Snapshot) *View {
	v := &View{
		Messages: make([]Message, len(s.Messages)),
		Users:    make([]string, len(s.Users)),
	}
	copy(v.Messages, s.Messages)
	copy(v.Users, s.Users)
	return v
}

// DecodeEvent 解析一帧 SSE 事件。事件名与 payload 的 type 不一致时视为格式错误。
func DecodeEvent(event string, data []byte) (Message, error) {
	kind, err := ParseKind(event)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type != kind {
		return Message{}, fmt.Errorf("%w: event %s carries type %s", ErrMalformedMessage, kind, msg.Type)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Apply 应用一帧事件。解析失败只丢弃这一帧，视图保持不变。
func (v *View) Apply(event string, data []byte) error {
	msg, err := DecodeEvent(event, data)
	if err != nil {
		return err
	}
	v.ApplyMessage(msg)
	return nil
}

func (v *View) ApplyMessage(msg Message) {
	switch msg.Type {
	case KindNewMessage:
		v.Messages = append(v.Messages, msg)
	case KindUserJoin:
		v.Users = append(v.Users, msg.Username)
	case KindUserLeave:
		for i, u := range v.Users {
			if u == msg.Username {
				v.Users = append(v.Users[:i], v.Users[i+1:]...)
				break
			}
		}
	}
}
