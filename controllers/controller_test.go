package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bookswap_go/config"
	"bookswap_go/controllers"
	"bookswap_go/middleware"
	"bookswap_go/models"
	"bookswap_go/routes"
	"bookswap_go/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
}

// newTestAPI 用内存SQLite和真实服务组装完整路由
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig(false))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	jwtService := config.NewJWTService(&config.JWTConfig{
		SecretKey:      "test-secret",
		ExpirationTime: time.Hour,
		RefreshTime:    2 * time.Hour,
		Issuer:         "bookswap-test",
	})

	authService := services.NewAuthService(db, nil, jwtService)
	listingService := services.NewListingService(db, nil, nil)
	interactionService := services.NewInteractionService(db)
	matchService := services.NewMatchService(db, nil)
	matchBookService := services.NewMatchBookService(db)
	ratingService := services.NewRatingService(db)

	r := gin.New()
	r.Use(middleware.RequestID())
	routes.SetupRoutes(r, &routes.Handlers{
		Auth:        controllers.NewAuthController(authService),
		User:        controllers.NewUserController(services.NewUserService(db, listingService, ratingService)),
		Listing:     controllers.NewListingController(listingService, interactionService),
		Match:       controllers.NewMatchController(interactionService, matchService, matchBookService),
		Exchange:    controllers.NewExchangeController(services.NewExchangeService(db, matchBookService, nil)),
		Payment:     controllers.NewPaymentController(services.NewPaymentService(db, nil, nil, nil, &config.PaymentConfig{})),
		Transaction: controllers.NewTransactionController(services.NewTransactionService(db, nil), ratingService),
		Chat:        controllers.NewChatController(services.NewChatService(db, nil, nil)),
		RequireAuth: middleware.AuthMiddleware(authService),
	})

	return &testAPI{t: t, router: r}
}

func (a *testAPI) do(method, path, token string, body interface{}) (int, apiResponse) {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

// register 注册并返回 (userID, accessToken)
func (a *testAPI) register(username string) (string, string) {
	a.t.Helper()
	code, resp := a.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "Secret123!",
	})
	require.Equal(a.t, http.StatusCreated, code, resp.Message)

	var data struct {
		User   models.User        `json:"user"`
		Tokens services.TokenPair `json:"tokens"`
	}
	require.NoError(a.t, json.Unmarshal(resp.Data, &data))
	return data.User.ID, data.Tokens.AccessToken
}

func (a *testAPI) publish(token, title string) string {
	a.t.Helper()
	code, resp := a.do(http.MethodPost, "/api/listings", token, gin.H{
		"title":            title,
		"transaction_type": models.TransactionTypeExchange,
		"condition":        "good",
	})
	require.Equal(a.t, http.StatusCreated, code, resp.Message)

	var listing models.PublishedBook
	require.NoError(a.t, json.Unmarshal(resp.Data, &listing))
	return listing.ID
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.NotZero(t, resp.Code)

	code, _ = api.do(http.MethodGet, "/api/matches", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// 公开浏览无需登录
	code, _ = api.do(http.MethodGet, "/api/listings", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)

	code, resp := api.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "9bad",
		"email":    "nope",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &fields))
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	api.register("alice")
	code, _ = api.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Secret123!",
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestSwipeMatchAndExchangeFlow(t *testing.T) {
	api := newTestAPI(t)
	aliceID, alice := api.register("alice")
	_, bob := api.register("bob")
	_, carol := api.register("carol")

	aliceBook := api.publish(alice, "Dune")
	bobBook := api.publish(bob, "Neuromancer")

	// 1. 单方喜欢不产生匹配
	code, resp := api.do(http.MethodPost, "/api/user-books/swipe", alice, gin.H{"book_id": bobBook, "liked": true})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var first struct {
		AutoMatch services.AutoMatchResult `json:"auto_match"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	assert.False(t, first.AutoMatch.Success)

	// 2. 互相喜欢后自动匹配
	code, resp = api.do(http.MethodPost, "/api/user-books/swipe", bob, gin.H{"book_id": aliceBook, "liked": true})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var second struct {
		AutoMatch services.AutoMatchResult `json:"auto_match"`
		Match     *models.Match            `json:"match"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &second))
	require.True(t, second.AutoMatch.Success)
	require.NotNil(t, second.Match)
	matchID := second.Match.ID

	// 3. 非参与者看不到匹配
	code, _ = api.do(http.MethodGet, "/api/matches/"+matchID, carol, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// 4. 双方绑定自己的书
	code, resp = api.do(http.MethodPost, "/api/matches/"+matchID+"/books", alice, gin.H{"published_book_id": aliceBook})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	code, _ = api.do(http.MethodPost, "/api/matches/"+matchID+"/books", alice, gin.H{"published_book_id": bobBook})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(http.MethodPost, "/api/matches/"+matchID+"/books", bob, gin.H{"published_book_id": bobBook})
	require.Equal(t, http.StatusCreated, code)

	// 5. 完成交换，重复完成返回冲突
	code, _ = api.do(http.MethodPost, "/api/exchanges/"+matchID+"/complete", carol, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = api.do(http.MethodPost, "/api/exchanges/"+matchID+"/complete", alice, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var summary services.ExchangeSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, services.ExchangeMethodSpecificBooks, summary.Method)
	assert.Equal(t, 2, summary.BooksUpdated)

	code, _ = api.do(http.MethodPost, "/api/exchanges/"+matchID+"/complete", bob, nil)
	assert.Equal(t, http.StatusConflict, code)

	// 6. 书籍已售出
	code, resp = api.do(http.MethodGet, "/api/listings/"+aliceBook, "", nil)
	require.Equal(t, http.StatusOK, code)
	var listing models.PublishedBook
	require.NoError(t, json.Unmarshal(resp.Data, &listing))
	assert.Equal(t, models.ListingStatusSold, listing.Status)
	assert.Equal(t, aliceID, listing.UserID)
}

func TestGetUserHidesContactDetails(t *testing.T) {
	api := newTestAPI(t)
	aliceID, alice := api.register("alice")
	_, bob := api.register("bob")

	code, resp := api.do(http.MethodGet, "/api/users/me", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "alice@example.com")

	code, resp = api.do(http.MethodGet, "/api/users/"+aliceID, bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(resp.Data), "alice@example.com")
}
