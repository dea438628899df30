package models

import (
	"time"

	"gorm.io/gorm"
)

const ExchangeStatusCompleted = "completed"

// UserBook 用户持有的一本书（交换记录使用的身份，与发布不同）
type UserBook struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_books_owner_book,priority:1" json:"user_id"`
	BookID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_books_owner_book,priority:2" json:"book_id"`
	CreatedAt time.Time `json:"created_at"`

	Book *Book `gorm:"foreignKey:BookID" json:"book,omitempty"`
}

// TableName 指定表名
func (UserBook) TableName() string {
	return "user_books"
}

// BeforeCreate 创建前钩子
func (ub *UserBook) BeforeCreate(tx *gorm.DB) error {
	if ub.ID == "" {
		ub.ID = generateUUID()
	}
	return nil
}

// Exchange 已完成的以书换书记录，每个匹配最多一条
type Exchange struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	MatchID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_exchanges_match" json:"match_id"`
	UserBookID1 *string   `gorm:"column:user_book_id_1;type:varchar(36);index" json:"user_book_id_1,omitempty"`
	UserBookID2 *string   `gorm:"column:user_book_id_2;type:varchar(36);index" json:"user_book_id_2,omitempty"`
	Status      string    `gorm:"type:varchar(20);not null;default:completed" json:"status"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`

	Match *Match `gorm:"foreignKey:MatchID" json:"match,omitempty"`
}

// TableName 指定表名
func (Exchange) TableName() string {
	return "exchanges"
}

// BeforeCreate 创建前钩子
func (e *Exchange) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = generateUUID()
	}
	if e.Status == "" {
		e.Status = ExchangeStatusCompleted
	}
	return nil
}
