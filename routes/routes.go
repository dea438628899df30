package routes

import (
	"bookswap_go/controllers"

	"github.com/gin-gonic/gin"
)

// Handlers 路由依赖的控制器与中间件
type Handlers struct {
	Auth        *controllers.AuthController
	User        *controllers.UserController
	Listing     *controllers.ListingController
	Match       *controllers.MatchController
	Exchange    *controllers.ExchangeController
	Payment     *controllers.PaymentController
	Transaction *controllers.TransactionController
	Chat        *controllers.ChatController

	RequireAuth gin.HandlerFunc
	RateLimit   gin.HandlerFunc
	WebSocket   gin.HandlerFunc
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, h *Handlers) {
	authed := h.RequireAuth

	// 支付回调不限流，由签名校验保护
	r.POST("/api/payments/webhook", h.Payment.Webhook)

	api := r.Group("/api")
	if h.RateLimit != nil {
		api.Use(h.RateLimit)
	}
	{
		// ====== 认证路由 ======
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.RefreshToken)
			auth.POST("/logout", authed, h.Auth.Logout)
		}

		// ====== 用户路由 ======
		users := api.Group("/users", authed)
		{
			users.GET("/me", h.User.GetMe)
			users.PUT("/me", h.User.UpdateMe)
			users.GET("/:id", h.User.GetUser)
		}

		// ====== 发布路由 ======
		listings := api.Group("/listings")
		{
			listings.GET("", h.Listing.ListListings)
			listings.GET("/mine", authed, h.Listing.GetMyListings)
			listings.GET("/feed", authed, h.Listing.GetFeed)
			listings.GET("/liked", authed, h.Listing.GetLiked)
			listings.GET("/:id", h.Listing.GetListing)
			listings.POST("", authed, h.Listing.CreateListing)
			listings.PUT("/:id", authed, h.Listing.UpdateListing)
			listings.DELETE("/:id", authed, h.Listing.DeleteListing)
		}

		// ====== 搜索路由 ======
		api.GET("/search", h.Listing.Search)
		api.GET("/search/hot", h.Listing.HotKeywords)

		// ====== 滑动与匹配 ======
		api.POST("/user-books/swipe", authed, h.Match.Swipe)

		matches := api.Group("/matches", authed)
		{
			matches.POST("", h.Match.CreateMatch)
			matches.GET("", h.Match.ListMatches)
			matches.GET("/:id", h.Match.GetMatch)
			matches.DELETE("/:id", h.Match.DeleteMatch)
			matches.POST("/:id/books", h.Match.AddMatchBook)
			matches.GET("/:id/books", h.Match.ListMatchBooks)
			matches.DELETE("/:id/books/:bookId", h.Match.RemoveMatchBook)
		}

		// ====== 交换路由 ======
		exchanges := api.Group("/exchanges", authed)
		{
			exchanges.POST("/:match_id/complete", h.Exchange.CompleteExchange)
			exchanges.GET("/:match_id", h.Exchange.GetExchange)
		}

		// ====== 支付路由 ======
		payments := api.Group("/payments")
		{
			payments.GET("/return", h.Payment.Return)
			payments.GET("", authed, h.Payment.ListPayments)
			payments.POST("/preferences/:publishedBookId", authed, h.Payment.CreatePreference)
			payments.GET("/:paymentId/redirect-status", authed, h.Payment.GetRedirectStatus)
		}

		// ====== 交易与评价 ======
		transactions := api.Group("/transactions", authed)
		{
			transactions.GET("", h.Transaction.ListTransactions)
			transactions.GET("/:id", h.Transaction.GetTransaction)
			transactions.PUT("/:id/status", h.Transaction.UpdateTransactionStatus)
		}

		ratings := api.Group("/ratings", authed)
		{
			ratings.POST("", h.Transaction.CreateRating)
			ratings.GET("/users/:id", h.Transaction.GetUserRatings)
		}

		// ====== 聊天路由 ======
		chatRequests := api.Group("/chat-requests", authed)
		{
			chatRequests.POST("", h.Chat.SendChatRequest)
			chatRequests.GET("", h.Chat.GetChatRequests)
			chatRequests.PUT("/:id", h.Chat.RespondChatRequest)
		}

		chats := api.Group("/chats", authed)
		{
			chats.GET("", h.Chat.GetChats)
			chats.GET("/unread", h.Chat.GetUnreadCount)
			chats.GET("/online-users", h.Chat.GetOnlineUsers)
			chats.GET("/:id/messages", h.Chat.GetMessages)
			chats.POST("/:id/messages", h.Chat.SendMessage)
			chats.PUT("/:id/read", h.Chat.MarkAsRead)
			chats.DELETE("/:id", h.Chat.DeleteChat)
		}
	}

	// ====== WebSocket ======
	if h.WebSocket != nil {
		r.GET("/ws", h.WebSocket)
	}
}
