package models

import (
	"time"

	"gorm.io/gorm"
)

// Chat 两个用户之间唯一的会话，由同意聊天请求创建
type Chat struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	PairKey       string         `gorm:"type:varchar(80);index" json:"-"`
	LastMessage   string         `gorm:"type:text" json:"last_message,omitempty"`
	LastSenderID  *string        `gorm:"type:varchar(36)" json:"last_sender_id,omitempty"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Users []ChatUser `gorm:"foreignKey:ChatID" json:"users,omitempty"`
}

func (Chat) TableName() string {
	return "chats"
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	return nil
}

// ChatUser 会话成员
type ChatUser struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_chat_users_chat_user,priority:1" json:"chat_id"`
	UserID    string    `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_chat_users_chat_user,priority:2" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ChatUser) TableName() string {
	return "chat_users"
}

func (cu *ChatUser) BeforeCreate(tx *gorm.DB) error {
	if cu.ID == "" {
		cu.ID = generateUUID()
	}
	return nil
}

// 聊天请求状态
const (
	ChatRequestPending  = "pending"
	ChatRequestAccepted = "accepted"
	ChatRequestRejected = "rejected"
)

// ChatRequest 聊天请求，接收方同意后才建立会话
type ChatRequest struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SenderID        string    `gorm:"type:varchar(36);index;not null" json:"sender_id"`
	ReceiverID      string    `gorm:"type:varchar(36);index;not null" json:"receiver_id"`
	PublishedBookID *string   `gorm:"type:varchar(36)" json:"published_book_id,omitempty"`
	Message         string    `gorm:"type:text" json:"message,omitempty"`
	Status          string    `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	ChatID          *string   `gorm:"type:varchar(36)" json:"chat_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Sender        *User          `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	PublishedBook *PublishedBook `gorm:"foreignKey:PublishedBookID" json:"published_book,omitempty"`
}

func (ChatRequest) TableName() string {
	return "chat_requests"
}

func (cr *ChatRequest) BeforeCreate(tx *gorm.DB) error {
	if cr.ID == "" {
		cr.ID = generateUUID()
	}
	if cr.Status == "" {
		cr.Status = ChatRequestPending
	}
	return nil
}
