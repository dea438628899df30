package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig JWT配置结构
type JWTConfig struct {
	SecretKey      string
	ExpirationTime time.Duration
	RefreshTime    time.Duration
	Issuer         string
}

// GetJWTConfig 获取JWT配置
func GetJWTConfig() *JWTConfig {
	return &JWTConfig{
		SecretKey:      GetEnv("JWT_SECRET", "change-me-in-production"),
		ExpirationTime: GetEnvDuration("JWT_ACCESS_TTL", 2*time.Hour),
		RefreshTime:    GetEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		Issuer:         GetEnv("JWT_ISSUER", "bookswap"),
	}
}

// Claims JWT声明结构
type Claims struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// JWTService JWT服务
type JWTService struct {
	config *JWTConfig
}

// NewJWTService 创建JWT服务实例
func NewJWTService(cfg *JWTConfig) *JWTService {
	if cfg == nil {
		cfg = GetJWTConfig()
	}
	return &JWTService{config: cfg}
}

// ErrInvalidToken token 签名、签发方或有效期校验失败
var ErrInvalidToken = errors.New("invalid token")

// 允许的时钟偏差
const tokenLeeway = 30 * time.Second

func (s *JWTService) sign(userID, username, email string, roles []string, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		Username:  username,
		Email:     email,
		Roles:     roles,
		TokenType: tokenType,
	}
	claims.ID = uuid.NewString()
	claims.Subject = userID
	claims.Issuer = s.config.Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.SecretKey))
}

// GenerateToken 生成访问token
func (s *JWTService) GenerateToken(userID, username, email string, roles []string) (string, error) {
	return s.sign(userID, username, email, roles, TokenTypeAccess, s.config.ExpirationTime)
}

// GenerateRefreshToken 生成刷新token
func (s *JWTService) GenerateRefreshToken(userID, username, email string, roles []string) (string, error) {
	return s.sign(userID, username, email, roles, TokenTypeRefresh, s.config.RefreshTime)
}

// AccessTTL 访问token有效期
func (s *JWTService) AccessTTL() time.Duration {
	return s.config.ExpirationTime
}

// ValidateToken 校验签名算法、签发方与有效期，返回的错误均包装 ErrInvalidToken
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(tokenLeeway),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.SecretKey), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.UserID == "":
		return nil, fmt.Errorf("%w: missing user", ErrInvalidToken)
	}
	return claims, nil
}

var (
	jwtService     *JWTService
	jwtServiceOnce sync.Once
)

// GetJWTService 获取JWT服务实例（全局单例）
func GetJWTService() *JWTService {
	jwtServiceOnce.Do(func() {
		if jwtService == nil {
			jwtService = NewJWTService(nil)
		}
	})
	return jwtService
}
