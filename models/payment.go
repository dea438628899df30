package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 支付状态
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusDisputed  = "disputed"
)

// Payment 一次托管收银台支付尝试
type Payment struct {
	ID                 string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	PublishedBookID    string          `gorm:"type:varchar(36);index;not null" json:"published_book_id"`
	BuyerID            string          `gorm:"type:varchar(36);index;not null" json:"buyer_id"`
	SellerID           string          `gorm:"type:varchar(36);index;not null" json:"seller_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(3);not null" json:"currency"`
	ExternalReference  string          `gorm:"type:varchar(191);not null;uniqueIndex:idx_payments_external_ref" json:"external_reference"`
	ProcessorSessionID string          `gorm:"type:varchar(255);index" json:"processor_session_id,omitempty"`
	ProcessorPaymentID string          `gorm:"type:varchar(255)" json:"processor_payment_id,omitempty"`
	ProcessorStatus    string          `gorm:"type:varchar(50)" json:"processor_status,omitempty"`
	Status             string          `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	CheckoutURL        string          `gorm:"type:text" json:"checkout_url,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	RawEvent           datatypes.JSON  `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	PublishedBook *PublishedBook `gorm:"foreignKey:PublishedBookID" json:"published_book,omitempty"`
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}

// BeforeCreate 创建前钩子
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

// IsFinal 支付是否已经离开待支付状态
func (p *Payment) IsFinal() bool {
	return p.Status != PaymentStatusPending
}

// HasParty 判断用户是否为买方或卖方
func (p *Payment) HasParty(userID string) bool {
	return p.BuyerID == userID || p.SellerID == userID
}

// 交易状态
const (
	TransactionStatusInitiated  = "initiated"
	TransactionStatusPending    = "pending"
	TransactionStatusConfirmed  = "confirmed"
	TransactionStatusInProgress = "in_progress"
	TransactionStatusCompleted  = "completed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusDisputed   = "disputed"
)

var transactionTransitions = map[string][]string{
	TransactionStatusInitiated:  {TransactionStatusPending, TransactionStatusCancelled, TransactionStatusDisputed},
	TransactionStatusPending:    {TransactionStatusConfirmed, TransactionStatusCancelled, TransactionStatusDisputed},
	TransactionStatusConfirmed:  {TransactionStatusInProgress, TransactionStatusCancelled, TransactionStatusDisputed},
	TransactionStatusInProgress: {TransactionStatusCompleted, TransactionStatusCancelled, TransactionStatusDisputed},
}

// CanTransitionTransaction 判断交易状态流转是否合法
func CanTransitionTransaction(from, to string) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction 支付成功后产生的销售交易
type Transaction struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	PaymentID       string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_transactions_payment" json:"payment_id"`
	PublishedBookID string          `gorm:"type:varchar(36);index;not null" json:"published_book_id"`
	BuyerID         string          `gorm:"type:varchar(36);index;not null" json:"buyer_id"`
	SellerID        string          `gorm:"type:varchar(36);index;not null" json:"seller_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status          string          `gorm:"type:varchar(20);not null;default:initiated;index" json:"status"`
	BuyerConfirmed  bool            `gorm:"default:false" json:"buyer_confirmed"`
	SellerConfirmed bool            `gorm:"default:false" json:"seller_confirmed"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	PublishedBook *PublishedBook `gorm:"foreignKey:PublishedBookID" json:"published_book,omitempty"`
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate 创建前钩子
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateUUID()
	}
	if t.Status == "" {
		t.Status = TransactionStatusInitiated
	}
	return nil
}

// HasParty 判断用户是否为交易双方
func (t *Transaction) HasParty(userID string) bool {
	return t.BuyerID == userID || t.SellerID == userID
}
