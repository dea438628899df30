package models

import (
	"time"

	"gorm.io/gorm"
)

// Book 书目模型（与发布无关的图书信息，多个发布可以引用同一本书）
type Book struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title       string         `gorm:"type:varchar(200);not null;index" json:"title"`
	Author      string         `gorm:"type:varchar(100);index" json:"author"`
	ISBN        string         `gorm:"type:varchar(20);index" json:"isbn,omitempty"`
	Category    string         `gorm:"type:varchar(50);index" json:"category,omitempty"`
	Description string         `gorm:"type:text" json:"description,omitempty"`
	CoverImage  string         `gorm:"type:varchar(255)" json:"cover_image,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定表名
func (Book) TableName() string {
	return "books"
}

// BeforeCreate 创建前钩子
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = generateUUID()
	}
	return nil
}
