package service

import (
	"context"

	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MessageService 是基于 Postgres 的聊天历史，插入时裁剪到最近 limit 条。
type MessageService struct {
	db    *gorm.DB
	limit int
}

func NewMessageService(db *gorm.DB, limit int) *MessageService {
	if limit <= 0 {
		limit = chat.DefaultHistorySize
	}
	return &MessageService{db: db, limit: limit}
}

// Append 写入一条消息并删除 id 早于最近 limit 条的记录。
func (s *MessageService) Append(ctx context.Context, msg chat.Message) error {
	row := toRow(msg)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		cutoff := int64(row.ID) - int64(s.limit)
		if cutoff <= 0 {
			return nil
		}
		return tx.Where("id <= ?", cutoff).Delete(&models.ChatMessage{}).Error
	})
}

// Recent 按 id 升序返回最近 limit 条消息。
func (s *MessageService) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	var rows []models.ChatMessage
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := fromRow(r)
		if err != nil {
			log.Warn().Err(err).Uint("id", r.ID).Msg("skip stored message")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func toRow(msg chat.Message) models.ChatMessage {
	row := models.ChatMessage{Username: msg.Username, Type: msg.Type.String(), CreatedAt: msg.CreatedAt}
	if msg.Content != "" {
		content := msg.Content
		row.Content = &content
	}
	return row
}

func fromRow(r models.ChatMessage) (chat.Message, error) {
	kind, err := chat.ParseKind(r.Type)
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{Username: r.Username, CreatedAt: r.CreatedAt.UTC(), Type: kind}
	if r.Content != nil {
		msg.Content = *r.Content
	}
	return msg, msg.Validate()
}
