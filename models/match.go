package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 匹配类型与状态
const (
	MatchTypeAuto   = "auto"
	MatchTypeManual = "manual"

	MatchStatusActive    = "active"
	MatchStatusCompleted = "completed"
)

// Match 两个用户之间的匹配，每个无序用户对最多一条（pair_key 唯一）
type Match struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID1     string         `gorm:"column:user_id_1;type:varchar(36);index;not null" json:"user_id_1"`
	UserID2     string         `gorm:"column:user_id_2;type:varchar(36);index;not null" json:"user_id_2"`
	User1BookID *string        `gorm:"column:user_1_book_id;type:varchar(36)" json:"user_1_book_id,omitempty"`
	User2BookID *string        `gorm:"column:user_2_book_id;type:varchar(36)" json:"user_2_book_id,omitempty"`
	PairKey     string         `gorm:"type:varchar(80);not null;uniqueIndex:idx_matches_pair_key" json:"-"`
	MatchType   string         `gorm:"type:varchar(10);not null;default:auto" json:"match_type"`
	Status      string         `gorm:"type:varchar(20);not null;default:active;index" json:"status"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"match_date"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// 关联关系
	User1      *User       `gorm:"foreignKey:UserID1" json:"user1,omitempty"`
	User2      *User       `gorm:"foreignKey:UserID2" json:"user2,omitempty"`
	MatchBooks []MatchBook `gorm:"foreignKey:MatchID" json:"match_books,omitempty"`
}

// TableName 指定表名
func (Match) TableName() string {
	return "matches"
}

// BeforeCreate 创建前钩子，保证 pair_key 与双方用户一致
func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateUUID()
	}
	m.PairKey = PairKey(m.UserID1, m.UserID2)
	if m.Status == "" {
		m.Status = MatchStatusActive
	}
	return nil
}

// HasUser 判断用户是否为匹配参与者
func (m *Match) HasUser(userID string) bool {
	return m.UserID1 == userID || m.UserID2 == userID
}

// OtherUserID 返回另一方的用户ID
func (m *Match) OtherUserID(userID string) string {
	if m.UserID1 == userID {
		return m.UserID2
	}
	return m.UserID1
}

// IsCompleted 是否已完成交换
func (m *Match) IsCompleted() bool {
	return m.Status == MatchStatusCompleted
}

// MatchBook 匹配与具体发布的绑定，标记该发布在本次匹配中属于哪一方
type MatchBook struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	MatchID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_match_books_match_book,priority:1" json:"match_id"`
	PublishedBookID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_match_books_match_book,priority:2;index" json:"published_book_id"`
	UserID          string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`

	PublishedBook *PublishedBook `gorm:"foreignKey:PublishedBookID" json:"published_book,omitempty"`
	User          *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定表名
func (MatchBook) TableName() string {
	return "match_books"
}

// BeforeCreate 创建前钩子
func (mb *MatchBook) BeforeCreate(tx *gorm.DB) error {
	if mb.ID == "" {
		mb.ID = generateUUID()
	}
	return nil
}
