package chat

import "errors"

// 聊天核心的通用错误，handler 根据错误类型决定重定向或返回 422。
var (
	ErrNoUsername        = errors.New("username not resolved")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMessageTooLong    = errors.New("message too long")
	ErrEmptyUsername     = errors.New("username is empty")
	ErrUsernameTooLong   = errors.New("username too long")
	ErrConnectionAborted = errors.New("connection aborted before open")
	ErrSlowConsumer      = errors.New("subscriber queue full")
	ErrUnknownKind       = errors.New("unknown event kind")
	ErrMalformedMessage  = errors.New("malformed chat message")
)
