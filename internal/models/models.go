package models

import "time"

// ChatMessage 是持久化的聊天记录，只保存 newmessage。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey"`
	Username  string    `gorm:"size:64;not null"`
	Content   *string   `gorm:"type:text"`
	Type      string    `gorm:"size:16;not null;default:newmessage"`
	CreatedAt time.Time `gorm:"index"`
}
