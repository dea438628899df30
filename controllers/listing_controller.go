package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/models"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// ListingController 书籍发布控制器
type ListingController struct {
	listingService     *services.ListingService
	interactionService *services.InteractionService
}

// NewListingController 创建发布控制器实例
func NewListingController(listingService *services.ListingService, interactionService *services.InteractionService) *ListingController {
	return &ListingController{
		listingService:     listingService,
		interactionService: interactionService,
	}
}

// CreateListing 发布书籍
// @Summary 发布书籍
// @Description 以赠送、交换或出售方式发布一本书，出售必须提供价格
// @Tags listings
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body services.PublishListingRequest true "发布信息"
// @Success 201 {object} utils.Response
// @Router /api/listings [post]
func (lc *ListingController) CreateListing(c *gin.Context) {
	var req services.PublishListingRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}
	req.Description = utils.SanitizeString(req.Description)

	listing, err := lc.listingService.PublishListing(c.Request.Context(), middleware.CurrentUserID(c), &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, listing)
}

// UpdateListing 修改发布
// @Summary 修改发布
// @Tags listings
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "发布ID"
// @Param request body services.UpdateListingRequest true "修改内容"
// @Success 200 {object} utils.Response
// @Router /api/listings/{id} [put]
func (lc *ListingController) UpdateListing(c *gin.Context) {
	var req services.UpdateListingRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}
	if req.Description != nil {
		sanitized := utils.SanitizeString(*req.Description)
		req.Description = &sanitized
	}

	listing, err := lc.listingService.UpdateListing(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, listing)
}

// DeleteListing 下架发布
// @Summary 下架发布
// @Tags listings
// @Security BearerAuth
// @Param id path string true "发布ID"
// @Success 200 {object} utils.Response
// @Router /api/listings/{id} [delete]
func (lc *ListingController) DeleteListing(c *gin.Context) {
	if err := lc.listingService.WithdrawListing(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "已下架", nil)
}

// GetListing 获取发布详情
// @Summary 获取发布详情
// @Tags listings
// @Produce json
// @Param id path string true "发布ID"
// @Success 200 {object} utils.Response
// @Router /api/listings/{id} [get]
func (lc *ListingController) GetListing(c *gin.Context) {
	listing, err := lc.listingService.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, listing)
}

// ListListings 浏览发布列表
// @Summary 浏览发布
// @Description 默认只返回可用的发布，可按类型、地点、关键词筛选
// @Tags listings
// @Produce json
// @Param transaction_type query string false "gift/exchange/sale"
// @Param status query string false "状态"
// @Param location query string false "地点"
// @Param keyword query string false "关键词"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} utils.PageResponse
// @Router /api/listings [get]
func (lc *ListingController) ListListings(c *gin.Context) {
	page, limit := pageParams(c)
	filter := services.ListingFilter{
		TransactionType: c.Query("transaction_type"),
		Status:          c.DefaultQuery("status", models.ListingStatusAvailable),
		Location:        c.Query("location"),
		Keyword:         c.Query("keyword"),
		OwnerID:         c.Query("user_id"),
		Page:            page,
		Limit:           limit,
	}

	listings, total, err := lc.listingService.ListListings(c.Request.Context(), filter)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paginate(c, listings, total, page, limit)
}

// GetMyListings 获取我的发布（所有状态）
// @Summary 我的发布
// @Tags listings
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.PageResponse
// @Router /api/listings/mine [get]
func (lc *ListingController) GetMyListings(c *gin.Context) {
	page, limit := pageParams(c)
	filter := services.ListingFilter{
		OwnerID: middleware.CurrentUserID(c),
		Status:  c.Query("status"),
		Page:    page,
		Limit:   limit,
	}

	listings, total, err := lc.listingService.ListListings(c.Request.Context(), filter)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paginate(c, listings, total, page, limit)
}

// GetFeed 获取滑动推荐
// @Summary 滑动推荐
// @Description 返回当前用户尚未表态的其他用户的可用发布
// @Tags listings
// @Security BearerAuth
// @Produce json
// @Param limit query int false "数量"
// @Success 200 {object} utils.Response
// @Router /api/listings/feed [get]
func (lc *ListingController) GetFeed(c *gin.Context) {
	feed, err := lc.listingService.GetFeed(c.Request.Context(), middleware.CurrentUserID(c), queryLimit(c, 20))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, feed)
}

// GetLiked 获取我喜欢过的发布
// @Summary 我喜欢的发布
// @Tags listings
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/listings/liked [get]
func (lc *ListingController) GetLiked(c *gin.Context) {
	listings, err := lc.interactionService.GetLikedListings(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, listings)
}

// Search 综合搜索
// @Summary 搜索书籍和用户
// @Tags search
// @Produce json
// @Param q query string true "关键词"
// @Param limit query int false "每类数量"
// @Success 200 {object} utils.Response
// @Router /api/search [get]
func (lc *ListingController) Search(c *gin.Context) {
	result, err := lc.listingService.Search(c.Request.Context(), c.Query("q"), queryLimit(c, 10))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, result)
}

// HotKeywords 热门搜索词
// @Summary 热门搜索词
// @Tags search
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/search/hot [get]
func (lc *ListingController) HotKeywords(c *gin.Context) {
	keywords, err := lc.listingService.HotKeywords(c.Request.Context(), queryLimit(c, 10))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, keywords)
}
