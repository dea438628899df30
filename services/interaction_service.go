package services

import (
	"context"
	"fmt"

	"bookswap_go/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InteractionService 用户对发布的喜欢/不喜欢记录
type InteractionService struct {
	db *gorm.DB
}

// NewInteractionService 创建互动服务实例
func NewInteractionService(db *gorm.DB) *InteractionService {
	return &InteractionService{db: db}
}

// RecordInteraction 记录互动，同一 (用户, 发布) 只保留最新一次的类型
func (s *InteractionService) RecordInteraction(ctx context.Context, userID, publishedBookID, interactionType string) (*models.UserPublishedBookInteraction, error) {
	if userID == "" || publishedBookID == "" {
		return nil, fmt.Errorf("%w: user and published book are required", ErrInvalidInput)
	}
	if !models.IsValidInteractionType(interactionType) {
		return nil, fmt.Errorf("%w: interaction type %q", ErrInvalidInput, interactionType)
	}

	db := s.db.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.PublishedBook{}).Where("id = ?", publishedBookID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("check published book: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: published book %s", ErrNotFound, publishedBookID)
	}

	interaction := &models.UserPublishedBookInteraction{
		UserID:          userID,
		PublishedBookID: publishedBookID,
		Type:            interactionType,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "published_book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "updated_at"}),
	}).Create(interaction).Error
	if err != nil {
		return nil, fmt.Errorf("record interaction: %w", err)
	}

	// 冲突更新时主键不是本次生成的，重新读取
	var stored models.UserPublishedBookInteraction
	if err := db.Where("user_id = ? AND published_book_id = ?", userID, publishedBookID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload interaction: %w", err)
	}
	return &stored, nil
}

// GetLikedListings 获取用户喜欢过的发布
func (s *InteractionService) GetLikedListings(ctx context.Context, userID string) ([]models.PublishedBook, error) {
	var listings []models.PublishedBook
	err := s.db.WithContext(ctx).
		Preload("Book").
		Preload("User").
		Joins("JOIN user_published_book_interactions i ON i.published_book_id = published_books.id").
		Where("i.user_id = ? AND i.type = ?", userID, models.InteractionLike).
		Order("i.updated_at DESC").
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("list liked listings: %w", err)
	}
	return listings, nil
}

// listingsLikedBy likerID 喜欢过的、属于 ownerID 的发布
func listingsLikedBy(db *gorm.DB, likerID, ownerID string) ([]models.PublishedBook, error) {
	var listings []models.PublishedBook
	err := db.Preload("Book").
		Where("user_id = ?", ownerID).
		Where("id IN (?)", db.Model(&models.UserPublishedBookInteraction{}).
			Select("published_book_id").
			Where("user_id = ? AND type = ?", likerID, models.InteractionLike)).
		Order("created_at ASC").
		Find(&listings).Error
	return listings, err
}
