package models

import (
	"time"

	"gorm.io/gorm"
)

// 互动类型
const (
	InteractionLike    = "like"
	InteractionDislike = "dislike"
)

// UserPublishedBookInteraction 用户对某个发布的喜欢/不喜欢，每个 (用户, 发布) 仅一行
type UserPublishedBookInteraction struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID          string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_interaction_user_book,priority:1" json:"user_id"`
	PublishedBookID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_interaction_user_book,priority:2;index" json:"published_book_id"`
	Type            string    `gorm:"type:varchar(10);not null;index" json:"type"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	PublishedBook *PublishedBook `gorm:"foreignKey:PublishedBookID" json:"published_book,omitempty"`
}

// TableName 指定表名
func (UserPublishedBookInteraction) TableName() string {
	return "user_published_book_interactions"
}

// BeforeCreate 创建前钩子
func (i *UserPublishedBookInteraction) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = generateUUID()
	}
	return nil
}

// IsValidInteractionType 校验互动类型
func IsValidInteractionType(t string) bool {
	return t == InteractionLike || t == InteractionDislike
}
