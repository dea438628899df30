package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 评价引用类型
const (
	RatingRefExchange    = "exchange"
	RatingRefSell        = "sell"
	RatingRefTransaction = "transaction"
	RatingRefMatch       = "match"
)

var ErrRatingReference = errors.New("rating must reference exactly one of exchange, sell, transaction or match")

// Rating 用户之间的评价，必须且只能关联一个交换/出售/交易/匹配
type Rating struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RaterID       string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_ratings_unique_ref,priority:1" json:"rater_id"`
	RatedID       string    `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_ratings_unique_ref,priority:2" json:"rated_id"`
	RefKey        string    `gorm:"type:varchar(60);not null;uniqueIndex:idx_ratings_unique_ref,priority:3" json:"-"`
	Score         int       `gorm:"not null;check:chk_ratings_score,score >= 1 AND score <= 5" json:"score"`
	Comment       string    `gorm:"type:text" json:"comment,omitempty"`
	ExchangeID    *string   `gorm:"type:varchar(36);index" json:"exchange_id,omitempty"`
	SellID        *string   `gorm:"type:varchar(36);index" json:"sell_id,omitempty"`
	TransactionID *string   `gorm:"type:varchar(36);index" json:"transaction_id,omitempty"`
	MatchID       *string   `gorm:"type:varchar(36);index" json:"match_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	Rater *User `gorm:"foreignKey:RaterID" json:"rater,omitempty"`
}

// TableName 指定表名
func (Rating) TableName() string {
	return "ratings"
}

// Reference 返回评价关联的类型与ID
func (r *Rating) Reference() (kind, id string, err error) {
	count := 0
	for _, ref := range []struct {
		kind string
		id   *string
	}{
		{RatingRefExchange, r.ExchangeID},
		{RatingRefSell, r.SellID},
		{RatingRefTransaction, r.TransactionID},
		{RatingRefMatch, r.MatchID},
	} {
		if ref.id != nil && *ref.id != "" {
			count++
			kind, id = ref.kind, *ref.id
		}
	}
	if count != 1 {
		return "", "", ErrRatingReference
	}
	return kind, id, nil
}

// BeforeCreate 创建前钩子，校验引用并生成唯一键
func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	kind, id, err := r.Reference()
	if err != nil {
		return err
	}
	r.RefKey = kind + ":" + id
	return nil
}
