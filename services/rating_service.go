package services

import (
	"context"
	"errors"
	"fmt"

	"bookswap_go/models"

	"gorm.io/gorm"
)

// CreateRatingInput 创建评价的参数
type CreateRatingInput struct {
	RatedID       string
	Score         int
	Comment       string
	ExchangeID    *string
	SellID        *string
	TransactionID *string
	MatchID       *string
}

// RatingSummary 用户评价汇总
type RatingSummary struct {
	UserID  string  `json:"user_id"`
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
}

// RatingService 评价服务
type RatingService struct {
	db *gorm.DB
}

// NewRatingService 创建评价服务实例
func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{db: db}
}

// CreateRating 创建评价：评分 1-5，只能关联一个对象，双方都必须参与过该对象
func (s *RatingService) CreateRating(ctx context.Context, raterID string, in CreateRatingInput) (*models.Rating, error) {
	if in.Score < 1 || in.Score > 5 {
		return nil, fmt.Errorf("%w: score must be between 1 and 5", ErrInvalidInput)
	}
	if in.RatedID == "" || in.RatedID == raterID {
		return nil, fmt.Errorf("%w: cannot rate yourself", ErrInvalidInput)
	}

	rating := &models.Rating{
		RaterID:       raterID,
		RatedID:       in.RatedID,
		Score:         in.Score,
		Comment:       in.Comment,
		ExchangeID:    in.ExchangeID,
		SellID:        in.SellID,
		TransactionID: in.TransactionID,
		MatchID:       in.MatchID,
	}
	kind, refID, err := rating.Reference()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	db := s.db.WithContext(ctx)
	parties, err := s.referenceParties(db, kind, refID)
	if err != nil {
		return nil, err
	}
	if !containsAll(parties, raterID, in.RatedID) {
		return nil, fmt.Errorf("%w: both users must take part in the rated %s", ErrForbidden, kind)
	}

	if err := db.Create(rating).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: already rated this %s", ErrConflict, kind)
		}
		if errors.Is(err, models.ErrRatingReference) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("create rating: %w", err)
	}
	return rating, nil
}

// referenceParties 返回被引用对象的参与者
func (s *RatingService) referenceParties(db *gorm.DB, kind, refID string) ([]string, error) {
	wrap := func(err error) error {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, kind, refID)
		}
		return fmt.Errorf("load %s: %w", kind, err)
	}

	switch kind {
	case models.RatingRefMatch:
		var match models.Match
		if err := db.First(&match, "id = ?", refID).Error; err != nil {
			return nil, wrap(err)
		}
		return []string{match.UserID1, match.UserID2}, nil
	case models.RatingRefExchange:
		var exchange models.Exchange
		if err := db.Preload("Match").First(&exchange, "id = ?", refID).Error; err != nil {
			return nil, wrap(err)
		}
		if exchange.Match == nil {
			return nil, fmt.Errorf("%w: exchange %s has no match", ErrNotFound, refID)
		}
		return []string{exchange.Match.UserID1, exchange.Match.UserID2}, nil
	case models.RatingRefTransaction:
		var transaction models.Transaction
		if err := db.First(&transaction, "id = ?", refID).Error; err != nil {
			return nil, wrap(err)
		}
		return []string{transaction.BuyerID, transaction.SellerID}, nil
	case models.RatingRefSell:
		// 出售评价：卖家加上任意一个已支付的买家
		var listing models.PublishedBook
		if err := db.First(&listing, "id = ?", refID).Error; err != nil {
			return nil, wrap(err)
		}
		var buyers []string
		if err := db.Model(&models.Transaction{}).
			Where("published_book_id = ?", listing.ID).
			Distinct().Pluck("buyer_id", &buyers).Error; err != nil {
			return nil, fmt.Errorf("load buyers: %w", err)
		}
		return append([]string{listing.UserID}, buyers...), nil
	}
	return nil, fmt.Errorf("%w: unknown reference %s", ErrInvalidInput, kind)
}

func containsAll(set []string, ids ...string) bool {
	for _, id := range ids {
		found := false
		for _, s := range set {
			if s == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetUserRatings 用户收到的评价
func (s *RatingService) GetUserRatings(ctx context.Context, userID string) ([]models.Rating, error) {
	var ratings []models.Rating
	err := s.db.WithContext(ctx).
		Preload("Rater").
		Where("rated_id = ?", userID).
		Order("created_at DESC").
		Find(&ratings).Error
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	return ratings, nil
}

// GetRatingSummary 评价数量与平均分
func (s *RatingService) GetRatingSummary(ctx context.Context, userID string) (*RatingSummary, error) {
	var row struct {
		Count   int64
		Average float64
	}
	err := s.db.WithContext(ctx).Model(&models.Rating{}).
		Select("COUNT(*) AS count, COALESCE(AVG(score), 0) AS average").
		Where("rated_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("rating summary: %w", err)
	}
	return &RatingSummary{UserID: userID, Count: row.Count, Average: row.Average}, nil
}
