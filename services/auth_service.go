package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookswap_go/config"
	"bookswap_go/logger"
	"bookswap_go/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthConfig 认证配置
type AuthConfig struct {
	MaxLoginAttempts   int           // 最大登录失败次数
	LoginBlockDuration time.Duration // 登录封禁时长
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,username"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,password"`
	Location string `json:"location" binding:"omitempty,max=100"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenPair 访问token与刷新token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthService 认证服务
type AuthService struct {
	db         *gorm.DB
	rdb        *redis.Client
	jwtService *config.JWTService
	authConfig *AuthConfig
}

// NewAuthService 创建认证服务实例，rdb 为 nil 时不做登录限制与token吊销
func NewAuthService(db *gorm.DB, rdb *redis.Client, jwtService *config.JWTService) *AuthService {
	if jwtService == nil {
		jwtService = config.GetJWTService()
	}
	return &AuthService{
		db:         db,
		rdb:        rdb,
		jwtService: jwtService,
		authConfig: &AuthConfig{
			MaxLoginAttempts:   config.GetEnvInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginBlockDuration: config.GetEnvDuration("LOGIN_BLOCK_DURATION", 15*time.Minute),
		},
	}
}

func blacklistKey(jti string) string {
	return "token:blacklist:" + jti
}

func loginLimitKey(email, ip string) string {
	return fmt.Sprintf("login:limit:%s:%s", strings.ToLower(email), ip)
}

// ==================== 注册 / 登录 ====================

// Register 用户注册
func (as *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, *TokenPair, error) {
	db := as.db.WithContext(ctx)

	// 1. 检查用户名和邮箱
	var n int64
	if err := db.Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, strings.ToLower(req.Email)).
		Count(&n).Error; err != nil {
		return nil, nil, fmt.Errorf("check existing user: %w", err)
	}
	if n > 0 {
		return nil, nil, fmt.Errorf("%w: username or email already exists", ErrConflict)
	}

	// 2. 密码加密
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	// 3. 创建用户，唯一索引兜底并发注册
	user := &models.User{
		Username: req.Username,
		Email:    strings.ToLower(req.Email),
		Password: string(hashed),
		Location: req.Location,
		Status:   models.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, nil, fmt.Errorf("%w: username or email already exists", ErrConflict)
		}
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := as.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	logger.L().Info("user registered", zap.String("user_id", user.ID))
	return user, tokens, nil
}

// Login 用户登录，同一邮箱+IP 连续失败达到上限后暂时封禁
func (as *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP string) (*models.User, *TokenPair, error) {
	email := strings.ToLower(req.Email)
	limitKey := loginLimitKey(email, clientIP)

	// 1. 检查失败次数
	if as.rdb != nil {
		attempts, err := as.rdb.Get(ctx, limitKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.L().Warn("read login attempts failed", zap.Error(err))
		}
		if attempts >= int64(as.authConfig.MaxLoginAttempts) {
			return nil, nil, fmt.Errorf("%w: too many failed login attempts, try again in %v",
				ErrTooManyRequests, as.authConfig.LoginBlockDuration)
		}
	}

	// 2. 查找用户并校验密码
	var user models.User
	if err := as.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if isNotFound(err) {
			as.recordLoginFailure(ctx, limitKey)
			return nil, nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		as.recordLoginFailure(ctx, limitKey)
		return nil, nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	// 3. 检查用户状态
	if user.Status == models.UserStatusDisabled {
		return nil, nil, fmt.Errorf("%w: account is disabled", ErrForbidden)
	}

	// 4. 更新最后登录时间，清除失败记录
	now := time.Now().UTC()
	if err := as.db.WithContext(ctx).Model(&user).Update("last_login", &now).Error; err != nil {
		logger.L().Warn("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if as.rdb != nil {
		as.rdb.Del(ctx, limitKey)
	}

	tokens, err := as.issueTokens(&user)
	if err != nil {
		return nil, nil, err
	}
	return &user, tokens, nil
}

func (as *AuthService) recordLoginFailure(ctx context.Context, limitKey string) {
	if as.rdb == nil {
		return
	}
	pipe := as.rdb.Pipeline()
	pipe.Incr(ctx, limitKey)
	pipe.Expire(ctx, limitKey, as.authConfig.LoginBlockDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L().Warn("record login failure failed", zap.Error(err))
	}
}

func (as *AuthService) issueTokens(user *models.User) (*TokenPair, error) {
	roles := []string{"user"}
	access, err := as.jwtService.GenerateToken(user.ID, user.Username, user.Email, roles)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	refresh, err := as.jwtService.GenerateRefreshToken(user.ID, user.Username, user.Email, roles)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(as.jwtService.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ==================== Token ====================

// RefreshToken 用刷新token换取新的token对，旧刷新token立即作废
func (as *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := as.jwtService.ValidateToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.TokenType != config.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrUnauthorized)
	}
	if as.IsRevoked(ctx, claims.ID) {
		return nil, fmt.Errorf("%w: token has been revoked", ErrUnauthorized)
	}

	var user models.User
	if err := as.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status == models.UserStatusDisabled {
		return nil, fmt.Errorf("%w: account is disabled", ErrForbidden)
	}

	as.revoke(ctx, claims)
	return as.issueTokens(&user)
}

// Logout 吊销当前访问token直到其过期
func (as *AuthService) Logout(ctx context.Context, claims *config.Claims) error {
	if claims == nil {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	as.revoke(ctx, claims)
	return nil
}

func (as *AuthService) revoke(ctx context.Context, claims *config.Claims) {
	if as.rdb == nil || claims.ExpiresAt == nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	if err := as.rdb.Set(ctx, blacklistKey(claims.ID), "1", ttl).Err(); err != nil {
		logger.L().Warn("blacklist token failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}

// IsRevoked 检查token是否已被吊销
func (as *AuthService) IsRevoked(ctx context.Context, jti string) bool {
	if as.rdb == nil || jti == "" {
		return false
	}
	n, err := as.rdb.Exists(ctx, blacklistKey(jti)).Result()
	return err == nil && n > 0
}

// ValidateAccessToken 校验访问token（签名、类型、吊销）
func (as *AuthService) ValidateAccessToken(ctx context.Context, token string) (*config.Claims, error) {
	claims, err := as.jwtService.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.TokenType == config.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: refresh token cannot be used for access", ErrUnauthorized)
	}
	if as.IsRevoked(ctx, claims.ID) {
		return nil, fmt.Errorf("%w: token has been revoked", ErrUnauthorized)
	}
	return claims, nil
}
