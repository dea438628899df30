package models

import (
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// 会话列表中最后一条消息的预览长度（字符）
const lastMessagePreview = 100

// Message 聊天消息，已读状态按接收方标记
type Message struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string         `gorm:"type:varchar(36);index:idx_messages_chat_created,priority:1;not null" json:"chat_id"`
	SenderID  string         `gorm:"type:varchar(36);index;not null" json:"sender_id"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	IsRead    bool           `gorm:"default:false;index" json:"is_read"`
	CreatedAt time.Time      `gorm:"index:idx_messages_chat_created,priority:2" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 创建前钩子
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateUUID()
	}
	return nil
}

// AfterCreate 同步会话的最后一条消息预览，会话列表按 updated_at 排序
func (m *Message) AfterCreate(tx *gorm.DB) error {
	now := tx.NowFunc()
	return tx.Model(&Chat{}).Where("id = ?", m.ChatID).Updates(map[string]interface{}{
		"last_message":    Preview(m.Content, lastMessagePreview),
		"last_sender_id":  m.SenderID,
		"last_message_at": now,
		"updated_at":      now,
	}).Error
}

// Preview 截取前 n 个字符
func Preview(content string, n int) string {
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n]) + "…"
}
