package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 发布类型
const (
	TransactionTypeGift     = "gift"
	TransactionTypeExchange = "exchange"
	TransactionTypeSale     = "sale"
)

// 发布状态
const (
	ListingStatusAvailable = "available"
	ListingStatusReserved  = "reserved"
	ListingStatusSold      = "sold"
	ListingStatusWithdrawn = "withdrawn"
)

// PublishedBook 书籍发布（一个用户以某种交易方式提供的一本书）
type PublishedBook struct {
	ID              string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	BookID          string              `gorm:"type:varchar(36);index;not null" json:"book_id"`
	UserID          string              `gorm:"type:varchar(36);index;not null" json:"user_id"`
	TransactionType string              `gorm:"type:varchar(20);index;not null;comment:gift,exchange,sale" json:"transaction_type"`
	Condition       string              `gorm:"type:varchar(20)" json:"condition,omitempty"`
	Location        string              `gorm:"type:varchar(100);index" json:"location,omitempty"`
	Price           decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"price"`
	Status          string              `gorm:"type:varchar(20);index;default:available;comment:available,reserved,sold,withdrawn" json:"status"`
	Description     string              `gorm:"type:text" json:"description,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	DeletedAt       gorm.DeletedAt      `gorm:"index" json:"-"`

	// 关联关系
	Book *Book `gorm:"foreignKey:BookID" json:"book,omitempty"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定表名
func (PublishedBook) TableName() string {
	return "published_books"
}

// BeforeCreate 创建前钩子
func (p *PublishedBook) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	if p.Status == "" {
		p.Status = ListingStatusAvailable
	}
	return nil
}

// IsValidTransactionType 校验发布类型
func IsValidTransactionType(t string) bool {
	switch t {
	case TransactionTypeGift, TransactionTypeExchange, TransactionTypeSale:
		return true
	}
	return false
}

// Title 返回书名，未加载书目时为空
func (p *PublishedBook) Title() string {
	if p.Book == nil {
		return ""
	}
	return p.Book.Title
}
