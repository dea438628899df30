package services

import (
	"context"
	"fmt"

	"bookswap_go/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// UpdateProfileRequest 更新用户资料请求
type UpdateProfileRequest struct {
	Avatar   *string `json:"avatar" binding:"omitempty,max=255"`
	Phone    *string `json:"phone" binding:"omitempty,max=20"`
	Bio      *string `json:"bio" binding:"omitempty,max=500"`
	Location *string `json:"location" binding:"omitempty,max=100"`
}

// UserProfile 用户主页
type UserProfile struct {
	User          *models.User     `json:"user"`
	ListingCounts map[string]int64 `json:"listing_counts"`
	Rating        *RatingSummary   `json:"rating"`
	MatchCount    int64            `json:"match_count"`
}

// UserService 用户服务
type UserService struct {
	db       *gorm.DB
	listings *ListingService
	ratings  *RatingService
}

// NewUserService 创建用户服务实例
func NewUserService(db *gorm.DB, listings *ListingService, ratings *RatingService) *UserService {
	return &UserService{db: db, listings: listings, ratings: ratings}
}

// GetProfile 并发汇总用户信息、发布统计、评价与匹配数
func (us *UserService) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile := &UserProfile{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var user models.User
		if err := us.db.WithContext(gctx).First(&user, "id = ?", userID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: user %s", ErrNotFound, userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		profile.User = &user
		return nil
	})
	g.Go(func() error {
		counts, err := us.listings.CountByStatus(gctx, userID)
		profile.ListingCounts = counts
		return err
	})
	g.Go(func() error {
		summary, err := us.ratings.GetRatingSummary(gctx, userID)
		profile.Rating = summary
		return err
	})
	g.Go(func() error {
		return us.db.WithContext(gctx).Model(&models.Match{}).
			Where("user_id_1 = ? OR user_id_2 = ?", userID, userID).
			Count(&profile.MatchCount).Error
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateProfile 更新当前用户资料
func (us *UserService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*models.User, error) {
	updates := map[string]interface{}{}
	if req.Avatar != nil {
		updates["avatar"] = *req.Avatar
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}

	db := us.db.WithContext(ctx)
	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(updates) > 0 {
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		if err := db.First(&user, "id = ?", userID).Error; err != nil {
			return nil, fmt.Errorf("reload user: %w", err)
		}
	}
	return &user, nil
}
