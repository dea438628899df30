package middleware

import (
	"context"
	"strings"

	"bookswap_go/config"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextClaims   = "claims"
)

// TokenValidator 校验访问token（含黑名单检查）
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*config.Claims, error)
}

// BearerToken 从 Authorization 头中提取token
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware JWT认证中间件
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			utils.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			utils.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// CurrentUserID 获取当前登录用户ID
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// CurrentClaims 获取当前请求的JWT声明
func CurrentClaims(c *gin.Context) *config.Claims {
	if v, ok := c.Get(ContextClaims); ok {
		if claims, ok := v.(*config.Claims); ok {
			return claims
		}
	}
	return nil
}
