package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/models"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// MatchController 滑动、匹配与匹配书籍控制器
type MatchController struct {
	interactionService *services.InteractionService
	matchService       *services.MatchService
	matchBookService   *services.MatchBookService
}

// NewMatchController 创建匹配控制器实例
func NewMatchController(
	interactionService *services.InteractionService,
	matchService *services.MatchService,
	matchBookService *services.MatchBookService,
) *MatchController {
	return &MatchController{
		interactionService: interactionService,
		matchService:       matchService,
		matchBookService:   matchBookService,
	}
}

// SwipeRequest 滑动请求
type SwipeRequest struct {
	BookID string `json:"book_id" binding:"required,max=36"`
	Liked  *bool  `json:"liked" binding:"required"`
}

// CreateMatchRequest 手动匹配请求
type CreateMatchRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required,max=36"`
}

// AddMatchBookRequest 绑定匹配书籍请求
type AddMatchBookRequest struct {
	PublishedBookID string `json:"published_book_id" binding:"required,max=36"`
}

// Swipe 对发布表态，喜欢时检查是否互相喜欢并自动匹配
// @Summary 滑动表态
// @Tags matches
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body SwipeRequest true "表态"
// @Success 200 {object} utils.Response
// @Router /api/user-books/swipe [post]
func (mc *MatchController) Swipe(c *gin.Context) {
	var req SwipeRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)

	interactionType := models.InteractionDislike
	if *req.Liked {
		interactionType = models.InteractionLike
	}
	interaction, err := mc.interactionService.RecordInteraction(ctx, userID, req.BookID, interactionType)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	resp := gin.H{"interaction": interaction}
	if *req.Liked {
		result, err := mc.matchService.CheckAndCreateAutoMatch(ctx, userID, req.BookID)
		if err != nil {
			utils.HandleServiceError(c, err)
			return
		}
		resp["auto_match"] = result
		if result.Success {
			resp["match"] = result.Match
		}
	}
	utils.Success(c, resp)
}

// CreateMatch 手动创建匹配
// @Summary 手动创建匹配
// @Tags matches
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateMatchRequest true "目标用户"
// @Success 201 {object} utils.Response
// @Failure 409 {object} utils.Response
// @Router /api/matches [post]
func (mc *MatchController) CreateMatch(c *gin.Context) {
	var req CreateMatchRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	match, err := mc.matchService.CreateManualMatch(c.Request.Context(), middleware.CurrentUserID(c), req.TargetUserID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, match)
}

// ListMatches 我的匹配
// @Summary 我的匹配
// @Tags matches
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/matches [get]
func (mc *MatchController) ListMatches(c *gin.Context) {
	matches, err := mc.matchService.GetUserMatches(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, matches)
}

// GetMatch 匹配详情
// @Summary 匹配详情
// @Tags matches
// @Security BearerAuth
// @Produce json
// @Param id path string true "匹配ID"
// @Success 200 {object} utils.Response
// @Router /api/matches/{id} [get]
func (mc *MatchController) GetMatch(c *gin.Context) {
	match, err := mc.matchService.GetMatch(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, match)
}

// DeleteMatch 删除匹配
// @Summary 删除匹配
// @Tags matches
// @Security BearerAuth
// @Param id path string true "匹配ID"
// @Success 200 {object} utils.Response
// @Router /api/matches/{id} [delete]
func (mc *MatchController) DeleteMatch(c *gin.Context) {
	if err := mc.matchService.DeleteMatch(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "匹配已删除", nil)
}

// AddMatchBook 为匹配绑定自己的一本交换书
// @Summary 绑定匹配书籍
// @Tags matches
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "匹配ID"
// @Param request body AddMatchBookRequest true "发布ID"
// @Success 201 {object} utils.Response
// @Router /api/matches/{id}/books [post]
func (mc *MatchController) AddMatchBook(c *gin.Context) {
	var req AddMatchBookRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	binding, err := mc.matchBookService.AddBookToMatch(c.Request.Context(), c.Param("id"), req.PublishedBookID, middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, binding)
}

// ListMatchBooks 匹配已绑定的书籍
// @Summary 匹配书籍列表
// @Tags matches
// @Security BearerAuth
// @Produce json
// @Param id path string true "匹配ID"
// @Success 200 {object} utils.Response
// @Router /api/matches/{id}/books [get]
func (mc *MatchController) ListMatchBooks(c *gin.Context) {
	ctx := c.Request.Context()
	matchID := c.Param("id")

	// 非参与者视为不存在
	if _, err := mc.matchService.GetMatch(ctx, matchID, middleware.CurrentUserID(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	books, err := mc.matchBookService.GetMatchBooks(ctx, matchID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, books)
}

// RemoveMatchBook 解除绑定
// @Summary 解除匹配书籍绑定
// @Tags matches
// @Security BearerAuth
// @Param id path string true "匹配ID"
// @Param bookId path string true "发布ID"
// @Success 200 {object} utils.Response
// @Router /api/matches/{id}/books/{bookId} [delete]
func (mc *MatchController) RemoveMatchBook(c *gin.Context) {
	err := mc.matchBookService.RemoveBookFromMatch(c.Request.Context(), c.Param("id"), c.Param("bookId"), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "已解除绑定", nil)
}
