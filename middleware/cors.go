package middleware

import (
	"net/http"
	"strings"
	"time"

	"bookswap_go/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// 未配置 CORS_ORIGINS 时允许的本地前端
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:4173",
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORSConfigFromEnv 从配置读取允许的来源（CORS_ORIGINS 逗号分隔）
func CORSConfigFromEnv() *CORSConfig {
	cfg := &CORSConfig{
		AllowOrigins:     devOrigins,
		AllowCredentials: config.GetEnvBool("CORS_ALLOW_CREDENTIALS", true),
		MaxAge:           config.GetEnvDuration("CORS_MAX_AGE", 12*time.Hour),
	}

	if raw := config.GetEnv("CORS_ORIGINS", ""); raw != "" {
		var origins []string
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.AllowOrigins = origins
	}
	return cfg
}

// CORS 返回CORS中间件，X-Request-ID 双向透传
func CORS(cfg *CORSConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = CORSConfigFromEnv()
	}

	return cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID", "Retry-After"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
