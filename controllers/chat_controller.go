package controllers

import (
	"bookswap_go/middleware"
	"bookswap_go/services"
	"bookswap_go/utils"

	"github.com/gin-gonic/gin"
)

// ChatController 聊天控制器
type ChatController struct {
	chatService *services.ChatService
}

// NewChatController 创建聊天控制器实例
func NewChatController(chatService *services.ChatService) *ChatController {
	return &ChatController{chatService: chatService}
}

// SendChatRequestRequest 发起聊天请求
type SendChatRequestRequest struct {
	ReceiverID      string  `json:"receiver_id" binding:"required,max=36"`
	PublishedBookID *string `json:"published_book_id" binding:"omitempty,max=36"`
	Message         string  `json:"message" binding:"max=500"`
}

// RespondChatRequestRequest 处理聊天请求
type RespondChatRequestRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// SendChatRequest 发起聊天请求
// @Summary 发起聊天请求
// @Tags chats
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body SendChatRequestRequest true "请求"
// @Success 201 {object} utils.Response
// @Router /api/chat-requests [post]
func (cc *ChatController) SendChatRequest(c *gin.Context) {
	var req SendChatRequestRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	request, err := cc.chatService.SendChatRequest(c.Request.Context(), middleware.CurrentUserID(c),
		req.ReceiverID, req.PublishedBookID, utils.SanitizeString(req.Message))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, request)
}

// GetChatRequests 收到和发出的聊天请求
// @Summary 聊天请求列表
// @Tags chats
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/chat-requests [get]
func (cc *ChatController) GetChatRequests(c *gin.Context) {
	received, sent, err := cc.chatService.GetChatRequests(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"received": received, "sent": sent})
}

// RespondChatRequest 同意或拒绝聊天请求
// @Summary 处理聊天请求
// @Tags chats
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求ID"
// @Param request body RespondChatRequestRequest true "是否同意"
// @Success 200 {object} utils.Response
// @Router /api/chat-requests/{id} [put]
func (cc *ChatController) RespondChatRequest(c *gin.Context) {
	var req RespondChatRequestRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	request, err := cc.chatService.RespondChatRequest(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), *req.Accept)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, request)
}

// GetChats 获取会话列表
// @Summary 会话列表
// @Description 按最近更新时间排序，附带未读数
// @Tags chats
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/chats [get]
func (cc *ChatController) GetChats(c *gin.Context) {
	chats, err := cc.chatService.GetChats(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, chats)
}

// GetMessages 获取会话消息
// @Summary 会话消息
// @Tags chats
// @Security BearerAuth
// @Produce json
// @Param id path string true "会话ID"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} utils.PageResponse
// @Router /api/chats/{id}/messages [get]
func (cc *ChatController) GetMessages(c *gin.Context) {
	page, limit := pageParams(c)
	messages, total, err := cc.chatService.GetMessages(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), page, limit)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paginate(c, messages, total, page, limit)
}

// SendMessage 发送消息
// @Summary 发送消息
// @Tags chats
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body SendMessageRequest true "消息"
// @Success 201 {object} utils.Response
// @Router /api/chats/{id}/messages [post]
func (cc *ChatController) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		utils.ValidationFailed(c, err)
		return
	}

	message, err := cc.chatService.SendMessage(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), utils.SanitizeString(req.Content))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, message)
}

// MarkAsRead 标记会话已读
// @Summary 标记已读
// @Tags chats
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} utils.Response
// @Router /api/chats/{id}/read [put]
func (cc *ChatController) MarkAsRead(c *gin.Context) {
	if err := cc.chatService.MarkAsRead(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, nil)
}

// GetUnreadCount 未读消息数
// @Summary 未读消息数
// @Tags chats
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/chats/unread [get]
func (cc *ChatController) GetUnreadCount(c *gin.Context) {
	perChat, total, err := cc.chatService.GetUnreadCount(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"chats": perChat, "total": total})
}

// GetOnlineUsers 在线用户
// @Summary 在线用户
// @Tags chats
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/chats/online-users [get]
func (cc *ChatController) GetOnlineUsers(c *gin.Context) {
	users, err := cc.chatService.GetOnlineUsers(c.Request.Context())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, gin.H{"users": users, "count": len(users)})
}

// DeleteChat 删除会话
// @Summary 删除会话
// @Tags chats
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} utils.Response
// @Router /api/chats/{id} [delete]
func (cc *ChatController) DeleteChat(c *gin.Context) {
	if err := cc.chatService.DeleteChat(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "会话已删除", nil)
}
