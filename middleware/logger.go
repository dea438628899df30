package middleware

import (
	"context"
	"sync"
	"time"

	"bookswap_go/config"
	"bookswap_go/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	accessLogStream    = "access_logs"
	accessLogStreamMax = 100000
	accessLogWorkers   = 3
)

var (
	accessLogMu      sync.RWMutex
	accessLogChannel chan *AccessLog
	accessLogWG      sync.WaitGroup
)

// 健康检查等探针请求不记录
var skipAccessLogPaths = map[string]bool{
	"/health": true,
}

// AccessLog 一次请求的访问记录
type AccessLog struct {
	Time      time.Time
	Method    string
	Route     string
	Path      string
	Query     string
	IP        string
	UserAgent string
	Status    int
	LatencyMS int64
	UserID    string
	RequestID string
	Error     string
}

// level 5xx 记为 error，4xx 记为 warn
func (al *AccessLog) level() zapcore.Level {
	switch {
	case al.Status >= 500:
		return zapcore.ErrorLevel
	case al.Status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// StartAccessLogWorkers 启动访问日志worker池，重复调用无效
func StartAccessLogWorkers() {
	accessLogMu.Lock()
	defer accessLogMu.Unlock()
	if accessLogChannel != nil {
		return
	}

	ch := make(chan *AccessLog, 1000)
	accessLogChannel = ch
	for i := 0; i < accessLogWorkers; i++ {
		accessLogWG.Add(1)
		go func() {
			defer accessLogWG.Done()
			for entry := range ch {
				entry.write()
			}
		}()
	}
}

// StopAccessLogWorkers 关闭队列并等待已缓冲的日志写完，之后的请求同步写日志
func StopAccessLogWorkers() {
	accessLogMu.Lock()
	ch := accessLogChannel
	accessLogChannel = nil
	accessLogMu.Unlock()

	if ch != nil {
		close(ch)
	}
	accessLogWG.Wait()
}

func (al *AccessLog) write() {
	fields := []zap.Field{
		zap.String("method", al.Method),
		zap.String("route", al.Route),
		zap.String("path", al.Path),
		zap.String("ip", al.IP),
		zap.Int("status", al.Status),
		zap.Int64("latency_ms", al.LatencyMS),
		zap.String("request_id", al.RequestID),
	}
	if al.Query != "" {
		fields = append(fields, zap.String("query", al.Query))
	}
	if al.UserID != "" {
		fields = append(fields, zap.String("user_id", al.UserID))
	}
	if al.Error != "" {
		fields = append(fields, zap.String("error", al.Error))
	}
	if ce := logger.Named("access").Check(al.level(), "request"); ce != nil {
		ce.Write(append(fields, zap.String("user_agent", al.UserAgent))...)
	}

	// 写入Redis Stream，供日志分析使用
	if config.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := config.RedisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: accessLogStream,
		MaxLen: accessLogStreamMax,
		Approx: true,
		Values: map[string]interface{}{
			"timestamp":   al.Time.Unix(),
			"method":      al.Method,
			"route":       al.Route,
			"path":        al.Path,
			"status_code": al.Status,
			"latency_ms":  al.LatencyMS,
			"user_id":     al.UserID,
			"request_id":  al.RequestID,
		},
	}).Err()
	if err != nil {
		logger.L().Debug("access log stream write failed", zap.Error(err))
	}
}

// RequestID 生成或透传 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Logger 返回访问日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipAccessLogPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		entry := &AccessLog{
			Time:      start,
			Method:    c.Request.Method,
			Route:     c.FullPath(),
			Path:      c.Request.URL.Path,
			Query:     c.Request.URL.RawQuery,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Status:    c.Writer.Status(),
			LatencyMS: time.Since(start).Milliseconds(),
			UserID:    c.GetString("user_id"),
			RequestID: c.GetString("request_id"),
		}
		if len(c.Errors) > 0 {
			entry.Error = c.Errors.String()
		}

		accessLogMu.RLock()
		queued := enqueueAccessLog(entry)
		accessLogMu.RUnlock()
		if !queued {
			entry.write()
		}
	}
}

// enqueueAccessLog 调用方持有读锁；队列满时直接丢弃，不阻塞请求
func enqueueAccessLog(entry *AccessLog) bool {
	if accessLogChannel == nil {
		return false
	}
	select {
	case accessLogChannel <- entry:
	default:
		logger.L().Warn("access log channel full, dropping entry",
			zap.String("method", entry.Method), zap.String("path", entry.Path))
	}
	return true
}
