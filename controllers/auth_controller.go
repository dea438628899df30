package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// AuthController 认证控制器
type AuthController struct {
	authService *services.AuthService
}

// NewAuthController 创建认证控制器实例
func NewAuthController(authService *services.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

// RefreshTokenRequest 刷新token请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register 用户注册
// @Summary 用户注册
// @Description 创建新用户账号并返回token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body services.RegisterRequest true "注册信息"
// @Success 201 {object} utils.Response
// @Router /api/auth/register [post]
func (ac *AuthController) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	user, tokens, err := ac.authService.Register(c.Request.Context(), &req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.Created(c, gin.H{"user": user, "tokens": tokens})
}

// Login 用户登录
// @Summary 用户登录
// @Description 邮箱密码登录，连续失败会被临时锁定
// @Tags auth
// @Accept json
// @Produce json
// @Param request body services.LoginRequest true "登录信息"
// @Success 200 {object} utils.Response
// @Router /api/auth/login [post]
func (ac *AuthController) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	user, tokens, err := ac.authService.Login(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.Success(c, gin.H{"user": user, "tokens": tokens})
}

// RefreshToken 刷新token
// @Summary 刷新访问token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshTokenRequest true "刷新token"
// @Success 200 {object} utils.Response
// @Router /api/auth/refresh [post]
func (ac *AuthController) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	tokens, err := ac.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.Success(c, tokens)
}

// Logout 用户登出
// @Summary 用户登出
// @Description 当前访问token加入黑名单
// @Tags auth
// @Security BearerAuth
// @Success 200 {object} utils.Response
// @Router /api/auth/logout [post]
func (ac *AuthController) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		utils.Unauthorized(c, "")
		return
	}

	if err := ac.authService.Logout(c.Request.Context(), claims); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "已退出登录", nil)
}
