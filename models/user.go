package models

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID        string         `gorm:"type:varchar(36);primaryKey;comment:用户ID (UUID)" json:"id"`
	Username  string         `gorm:"type:varchar(50);uniqueIndex;not null;comment:用户名" json:"username"`
	Email     string         `gorm:"type:varchar(100);uniqueIndex;not null;comment:邮箱" json:"email"`
	Password  string         `gorm:"type:varchar(255);not null;comment:密码哈希" json:"-"` // 不返回给前端
	Avatar    string         `gorm:"type:varchar(255)" json:"avatar,omitempty"`
	Phone     string         `gorm:"type:varchar(20)" json:"phone,omitempty"`
	Bio       string         `gorm:"type:text" json:"bio,omitempty"`
	Location  string         `gorm:"type:varchar(100);index;comment:所在地" json:"location,omitempty"`
	Status    int            `gorm:"default:1;comment:状态: 1=正常, 0=禁用" json:"status"`
	LastLogin *time.Time     `json:"last_login,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	PublishedBooks []PublishedBook `gorm:"foreignKey:UserID" json:"published_books,omitempty"`
}

const (
	UserStatusDisabled = 0
	UserStatusActive   = 1
)

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// BeforeCreate 创建前钩子
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = generateUUID()
	}
	return nil
}

// UserBrief 对外展示的用户摘要
type UserBrief struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Location string `json:"location,omitempty"`
}

// Brief 转换为用户摘要
func (u *User) Brief() UserBrief {
	return UserBrief{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Location: u.Location}
}
