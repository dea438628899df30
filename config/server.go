package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bookswap_go/logger"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient 全局 Redis 客户端实例
var RedisClient *redis.Client

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GetRedisConfig 获取Redis配置
func GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: GetEnv("REDIS_PASSWORD", ""),
		DB:       GetEnvInt("REDIS_DB", 0),
	}
}

// AsynqOpt 异步任务队列使用同一个Redis
func (c *RedisConfig) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// InitializeRedis 初始化 Redis 客户端
func InitializeRedis() error {
	cfg := GetRedisConfig()

	RedisClient = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,              // 连接池大小
		MinIdleConns: 5,               // 最小空闲连接
		MaxRetries:   3,               // 最大重试次数
		DialTimeout:  5 * time.Second, // 连接超时
		ReadTimeout:  3 * time.Second, // 读取超时
		WriteTimeout: 3 * time.Second, // 写入超时
		PoolTimeout:  4 * time.Second, // 从连接池获取连接的超时
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		_ = RedisClient.Close()
		RedisClient = nil
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.L().Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return nil
}

// CloseRedis 关闭 Redis 连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// ServerConfig 服务器配置结构
type ServerConfig struct {
	Port            string
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RedisEnabled    bool // Redis是否启用
}

// GetServerConfig 获取服务器配置
func GetServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            GetEnv("SERVER_PORT", "8080"),
		Mode:            GetEnv("GIN_MODE", gin.DebugMode),
		ReadTimeout:     GetEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: GetEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		RedisEnabled:    GetEnvBool("REDIS_ENABLED", true),
	}
}

// SetupRouter 创建Gin实例，挂载全局中间件和健康检查
func SetupRouter(middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(GetServerConfig().Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares...)

	r.GET("/health", healthCheck)
	return r
}

// healthCheck 健康检查（包括数据库和Redis状态）
func healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := gin.H{"status": "ok"}

	switch {
	case DB == nil:
		health["database"] = "not initialized"
		status = http.StatusServiceUnavailable
	default:
		sqlDB, err := DB.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			health["database"] = "disconnected"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "connected"
		}
	}

	// Redis 可选，不可用时只降级
	switch {
	case RedisClient == nil:
		health["redis"] = "not initialized"
	case RedisClient.Ping(ctx).Err() != nil:
		health["redis"] = "disconnected"
	default:
		health["redis"] = "connected"
	}

	if status != http.StatusOK {
		health["status"] = "unavailable"
	}
	c.JSON(status, health)
}

// NewHTTPServer 根据服务器配置创建 http.Server
func NewHTTPServer(handler http.Handler) *http.Server {
	cfg := GetServerConfig()
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
