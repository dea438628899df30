package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestGetEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT: \"9090\"\nPAYMENT_TIMEOUT: 7s\nREDIS_DB: \"2\"\n"), 0o600))
	require.NoError(t, LoadFile(path))
	t.Cleanup(func() { fileValues = nil })

	assert.Equal(t, "9090", GetEnv("SERVER_PORT", "8080"))
	assert.Equal(t, 7*time.Second, GetEnvDuration("PAYMENT_TIMEOUT", 5*time.Second))
	assert.Equal(t, 2, GetEnvInt("REDIS_DB", 0))

	t.Setenv("SERVER_PORT", "7070")
	assert.Equal(t, "7070", GetEnv("SERVER_PORT", "8080"))

	assert.Equal(t, "fallback", GetEnv("BOOKSWAP_UNSET_KEY", "fallback"))
	assert.True(t, GetEnvBool("BOOKSWAP_UNSET_KEY", true))
}

func TestLoadFileMissingIsIgnored(t *testing.T) {
	require.NoError(t, LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
	require.NoError(t, LoadFile(""))
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))
	assert.Error(t, LoadFile(path))
}

func TestJWTRoundTrip(t *testing.T) {
	svc := &JWTService{config: &JWTConfig{SecretKey: "test-secret", ExpirationTime: time.Hour, RefreshTime: 2 * time.Hour, Issuer: "bookswap"}}

	token, err := svc.GenerateToken("u1", "alice", "alice@example.com", []string{"user"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)

	other := &JWTService{config: &JWTConfig{SecretKey: "other", ExpirationTime: time.Hour, Issuer: "bookswap"}}
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := &JWTService{config: &JWTConfig{SecretKey: "test-secret", ExpirationTime: time.Hour, Issuer: "someone-else"}}
	_, err = foreign.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := &JWTService{config: &JWTConfig{SecretKey: "test-secret", ExpirationTime: -time.Hour, Issuer: "bookswap"}}
	stale, err := expired.GenerateToken("u1", "alice", "alice@example.com", nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "expired")
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	prevDB, prevRedis := DB, RedisClient
	t.Cleanup(func() { DB, RedisClient = prevDB, prevRedis })

	t.Setenv("GIN_MODE", gin.TestMode)
	r := SetupRouter()

	DB, RedisClient = nil, nil
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	db, err := gorm.Open(sqlite.Open("file::memory:"), GormConfig(false))
	require.NoError(t, err)
	DB = db
	mr := miniredis.RunT(t)
	RedisClient = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = RedisClient.Close() })

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connected"`)
	assert.Contains(t, w.Body.String(), `"database":"connected"`)
}

func TestRedisConfigAsynqOpt(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	opt := GetRedisConfig().AsynqOpt()
	assert.Equal(t, "redis:6380", opt.Addr)
	assert.Equal(t, 3, opt.DB)
}
