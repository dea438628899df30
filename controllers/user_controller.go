package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// UserController 用户控制器
type UserController struct {
	userService *services.UserService
}

// NewUserController 创建用户控制器实例
func NewUserController(userService *services.UserService) *UserController {
	return &UserController{userService: userService}
}

// GetMe 获取当前用户主页
// @Summary 获取当前用户资料
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/users/me [get]
func (uc *UserController) GetMe(c *gin.Context) {
	profile, err := uc.userService.GetProfile(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, profile)
}

// GetUser 获取其他用户主页（不含联系方式）
// @Summary 获取用户资料
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path string true "用户ID"
// @Success 200 {object} utils.Response
// @Router /api/users/{id} [get]
func (uc *UserController) GetUser(c *gin.Context) {
	userID := c.Param("id")
	profile, err := uc.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	if userID != middleware.CurrentUserID(c) {
		profile.User.Email = ""
		profile.User.Phone = ""
	}
	utils.Success(c, profile)
}

// UpdateMe 更新当前用户资料
// @Summary 更新用户资料
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body services.UpdateProfileRequest true "资料"
// @Success 200 {object} utils.Response
// @Router /api/users/me [put]
func (uc *UserController) UpdateMe(c *gin.Context) {
	var req services.UpdateProfileRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	user, err := uc.userService.UpdateProfile(c.Request.Context(), middleware.CurrentUserID(c), &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "资料已更新", user)
}
