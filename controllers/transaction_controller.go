package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// TransactionController 交易与评价控制器
type TransactionController struct {
	transactionService *services.TransactionService
	ratingService      *services.RatingService
}

// NewTransactionController 创建交易控制器实例
func NewTransactionController(transactionService *services.TransactionService, ratingService *services.RatingService) *TransactionController {
	return &TransactionController{
		transactionService: transactionService,
		ratingService:      ratingService,
	}
}

// UpdateTransactionStatusRequest 更新交易状态请求
type UpdateTransactionStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed in_progress completed cancelled disputed"`
}

// CreateRatingRequest 评价请求，四种关联必须且只能提供一种
type CreateRatingRequest struct {
	RatedID       string  `json:"rated_id" binding:"required,max=36"`
	Score         int     `json:"score" binding:"required,gte=1,lte=5"`
	Comment       string  `json:"comment" binding:"max=1000"`
	ExchangeID    *string `json:"exchange_id" binding:"omitempty,max=36"`
	SellID        *string `json:"sell_id" binding:"omitempty,max=36"`
	TransactionID *string `json:"transaction_id" binding:"omitempty,max=36"`
	MatchID       *string `json:"match_id" binding:"omitempty,max=36"`
}

// ListTransactions 我的交易
// @Summary 我的交易
// @Tags transactions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/transactions [get]
func (tc *TransactionController) ListTransactions(c *gin.Context) {
	transactions, err := tc.transactionService.GetUserTransactions(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, transactions)
}

// GetTransaction 交易详情
// @Summary 交易详情
// @Tags transactions
// @Security BearerAuth
// @Produce json
// @Param id path string true "交易ID"
// @Success 200 {object} utils.Response
// @Router /api/transactions/{id} [get]
func (tc *TransactionController) GetTransaction(c *gin.Context) {
	transaction, err := tc.transactionService.GetTransaction(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, transaction)
}

// UpdateTransactionStatus 更新交易状态
// @Summary 更新交易状态
// @Tags transactions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "交易ID"
// @Param request body UpdateTransactionStatusRequest true "状态"
// @Success 200 {object} utils.Response
// @Failure 409 {object} utils.Response
// @Router /api/transactions/{id}/status [put]
func (tc *TransactionController) UpdateTransactionStatus(c *gin.Context) {
	var req UpdateTransactionStatusRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	transaction, err := tc.transactionService.UpdateStatus(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req.Status)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, transaction)
}

// CreateRating 评价交易对方
// @Summary 创建评价
// @Tags ratings
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateRatingRequest true "评价"
// @Success 201 {object} utils.Response
// @Router /api/ratings [post]
func (tc *TransactionController) CreateRating(c *gin.Context) {
	var req CreateRatingRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	rating, err := tc.ratingService.CreateRating(c.Request.Context(), middleware.CurrentUserID(c), services.CreateRatingInput{
		RatedID:       req.RatedID,
		Score:         req.Score,
		Comment:       utils.SanitizeString(req.Comment),
		ExchangeID:    req.ExchangeID,
		SellID:        req.SellID,
		TransactionID: req.TransactionID,
		MatchID:       req.MatchID,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, rating)
}

// GetUserRatings 用户收到的评价及汇总
// @Summary 用户评价
// @Tags ratings
// @Security BearerAuth
// @Produce json
// @Param id path string true "用户ID"
// @Success 200 {object} utils.Response
// @Router /api/ratings/users/{id} [get]
func (tc *TransactionController) GetUserRatings(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	ratings, err := tc.ratingService.GetUserRatings(ctx, userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	summary, err := tc.ratingService.GetRatingSummary(ctx, userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"ratings": ratings, "summary": summary})
}
