package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookswap_go/config"
	"bookswap_go/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticValidator map[string]*config.Claims

func (v staticValidator) ValidateAccessToken(_ context.Context, token string) (*config.Claims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"abc":         "",
		"":            "",
	}
	for header, want := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(c), header)
	}
}

func TestAuthMiddleware(t *testing.T) {
	validator := staticValidator{"good": {UserID: "A", Username: "user_a"}}
	r := gin.New()
	r.GET("/me", AuthMiddleware(validator), func(c *gin.Context) {
		require.NotNil(t, CurrentClaims(c))
		c.String(http.StatusOK, CurrentUserID(c)+"/"+c.GetString(ContextUsername))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A/user_a", w.Body.String())

	for _, header := range []string{"", "Bearer revoked"} {
		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RPS: 0.001, Burst: 2, IdleTTL: time.Minute})
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(ip string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	// 其他客户端不受影响
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2"))

	rl.mu.Lock()
	for _, cl := range rl.clients {
		cl.lastSeen = time.Now().Add(-2 * time.Minute)
	}
	rl.mu.Unlock()
	assert.Equal(t, 2, rl.Cleanup())
}

func TestRequestIDAndAccessLog(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-1", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORSConfigFromEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://books.example.com, https://admin.example.com,")
	cfg := CORSConfigFromEnv()
	assert.Equal(t, []string{"https://books.example.com", "https://admin.example.com"}, cfg.AllowOrigins)

	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://books.example.com")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://books.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	t.Setenv("CORS_ORIGINS", "")
	assert.Contains(t, CORSConfigFromEnv().AllowOrigins, "http://localhost:5173")
}

func TestAccessLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, (&AccessLog{Status: http.StatusOK}).level())
	assert.Equal(t, zapcore.WarnLevel, (&AccessLog{Status: http.StatusNotFound}).level())
	assert.Equal(t, zapcore.ErrorLevel, (&AccessLog{Status: http.StatusBadGateway}).level())
}

func TestStopAccessLogWorkersDrainsQueue(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(zap.NewNop()) })

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/books", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	StartAccessLogWorkers()
	StartAccessLogWorkers()
	for i := 0; i < 20; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	StopAccessLogWorkers()
	assert.Equal(t, 20, logs.FilterMessage("request").Len())

	// 停止后同步写，重复停止无副作用
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books", nil))
	StopAccessLogWorkers()
	assert.Equal(t, 21, logs.FilterMessage("request").Len())
	assert.Equal(t, "/books", logs.FilterMessage("request").All()[0].ContextMap()["route"])
}
