package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"bookswap_go/logger"
	"bookswap_go/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// ChatBroadcastChannel 新消息广播频道，由 websocket 订阅
	ChatBroadcastChannel = "chat:broadcast"

	onlineUsersKey    = "online:users"
	unreadTTL         = 7 * 24 * time.Hour
	maxMessageLength  = 1000
	defaultMessageCap = 50
)

// ChatWithUnread 带未读数的聊天
type ChatWithUnread struct {
	Chat        models.Chat `json:"chat"`
	UnreadCount int64       `json:"unread_count"`
}

// ChatBroadcast 发布到 chat:broadcast 的消息
type ChatBroadcast struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id"`
	SenderID  string          `json:"sender_id"`
	Receivers []string        `json:"receivers"`
	Message   *models.Message `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatService 聊天服务
type ChatService struct {
	db     *gorm.DB
	rdb    *redis.Client
	events *EventPublisher
}

// NewChatService 创建聊天服务实例，rdb 可以为 nil
func NewChatService(db *gorm.DB, rdb *redis.Client, events *EventPublisher) *ChatService {
	return &ChatService{db: db, rdb: rdb, events: events}
}

func unreadKey(userID, chatID string) string {
	return fmt.Sprintf("unread:%s:%s", userID, chatID)
}

// ==================== 聊天请求 ====================

// SendChatRequest 发送聊天请求
func (cs *ChatService) SendChatRequest(ctx context.Context, senderID, receiverID string, publishedBookID *string, message string) (*models.ChatRequest, error) {
	// 1. 不能给自己发
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: cannot start a chat with yourself", ErrInvalidInput)
	}
	db := cs.db.WithContext(ctx)

	// 2. 接收方必须存在
	var receiver models.User
	if err := db.Select("id").First(&receiver, "id = ?", receiverID).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, receiverID)
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}
	if publishedBookID != nil && *publishedBookID != "" {
		var listing models.PublishedBook
		if err := db.Select("id").First(&listing, "id = ?", *publishedBookID).Error; err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: published book %s", ErrNotFound, *publishedBookID)
			}
			return nil, fmt.Errorf("load published book: %w", err)
		}
	}

	// 3. 同一对用户只保留一个待处理请求
	var pending int64
	if err := db.Model(&models.ChatRequest{}).
		Where("status = ?", models.ChatRequestPending).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			senderID, receiverID, receiverID, senderID).
		Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("check pending requests: %w", err)
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: a chat request is already pending", ErrConflict)
	}

	request := &models.ChatRequest{
		SenderID:        senderID,
		ReceiverID:      receiverID,
		PublishedBookID: publishedBookID,
		Message:         message,
	}
	if err := db.Create(request).Error; err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}

	cs.events.Notify(ctx, "chat_request", map[string]interface{}{
		"request_id": request.ID,
		"sender_id":  senderID,
	}, receiverID)
	return request, nil
}

// GetChatRequests 用户收到和发出的聊天请求
func (cs *ChatService) GetChatRequests(ctx context.Context, userID string) (received, sent []models.ChatRequest, err error) {
	db := cs.db.WithContext(ctx)
	if err = db.Preload("Sender").Preload("PublishedBook.Book").
		Where("receiver_id = ?", userID).
		Order("created_at DESC").
		Find(&received).Error; err != nil {
		return nil, nil, fmt.Errorf("list received requests: %w", err)
	}
	if err = db.Preload("PublishedBook.Book").
		Where("sender_id = ?", userID).
		Order("created_at DESC").
		Find(&sent).Error; err != nil {
		return nil, nil, fmt.Errorf("list sent requests: %w", err)
	}
	return received, sent, nil
}

// RespondChatRequest 接收方处理聊天请求；同意时创建或复用会话
func (cs *ChatService) RespondChatRequest(ctx context.Context, requestID, userID string, accept bool) (*models.ChatRequest, error) {
	var request models.ChatRequest
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", requestID).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: chat request %s", ErrNotFound, requestID)
			}
			return err
		}
		if request.ReceiverID != userID {
			return fmt.Errorf("%w: only the receiver can respond", ErrForbidden)
		}
		if request.Status != models.ChatRequestPending {
			return fmt.Errorf("%w: chat request already %s", ErrConflict, request.Status)
		}

		request.Status = models.ChatRequestRejected
		if accept {
			chat, err := cs.findOrCreateChat(tx, request.SenderID, request.ReceiverID)
			if err != nil {
				return err
			}
			request.Status = models.ChatRequestAccepted
			request.ChatID = &chat.ID
		}
		return tx.Model(&request).Updates(map[string]interface{}{
			"status":  request.Status,
			"chat_id": request.ChatID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	cs.events.Notify(ctx, "chat_request_"+request.Status, map[string]interface{}{
		"request_id": request.ID,
		"chat_id":    request.ChatID,
	}, request.SenderID)
	return &request, nil
}

// findOrCreateChat 两个用户之间只有一个会话
func (cs *ChatService) findOrCreateChat(tx *gorm.DB, userA, userB string) (*models.Chat, error) {
	pairKey := models.PairKey(userA, userB)

	var chat models.Chat
	err := tx.Where("pair_key = ?", pairKey).First(&chat).Error
	if err == nil {
		return &chat, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	chat = models.Chat{PairKey: pairKey}
	if err := tx.Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	for _, uid := range []string{userA, userB} {
		if err := tx.Create(&models.ChatUser{ChatID: chat.ID, UserID: uid}).Error; err != nil {
			return nil, fmt.Errorf("add chat user: %w", err)
		}
	}
	return &chat, nil
}

// ==================== 聊天管理 ====================

// IsParticipant 判断用户是否属于该会话
func (cs *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var n int64
	err := cs.db.WithContext(ctx).Model(&models.ChatUser{}).
		Joins("JOIN chats ON chats.id = chat_users.chat_id AND chats.deleted_at IS NULL").
		Where("chat_users.chat_id = ? AND chat_users.user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

func (cs *ChatService) requireParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := cs.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("check chat membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	return nil
}

// ChatParticipants 会话成员
func (cs *ChatService) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := cs.db.WithContext(ctx).Model(&models.ChatUser{}).
		Where("chat_id = ?", chatID).
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetChats 获取用户的聊天列表，按最后活动时间倒序
func (cs *ChatService) GetChats(ctx context.Context, userID string) ([]ChatWithUnread, error) {
	var chats []models.Chat
	err := cs.db.WithContext(ctx).
		Preload("Users.User").
		Joins("JOIN chat_users ON chat_users.chat_id = chats.id").
		Where("chat_users.user_id = ?", userID).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	result := make([]ChatWithUnread, 0, len(chats))
	for _, chat := range chats {
		result = append(result, ChatWithUnread{Chat: chat, UnreadCount: cs.unread(ctx, userID, chat.ID)})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Chat.UpdatedAt.After(result[j].Chat.UpdatedAt)
	})
	return result, nil
}

// DeleteChat 软删除会话
func (cs *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	if err := cs.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := cs.db.WithContext(ctx).Delete(&models.Chat{}, "id = ?", chatID).Error; err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if cs.rdb != nil {
		participants, _ := cs.ChatParticipants(ctx, chatID)
		for _, uid := range participants {
			cs.rdb.Del(ctx, unreadKey(uid, chatID))
		}
	}
	return nil
}

// ==================== 消息 ====================

// SendMessage 发送消息，接收方未读数 +1 并广播给 websocket
func (cs *ChatService) SendMessage(ctx context.Context, chatID, userID, content string) (*models.Message, error) {
	// 1. 验证内容
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, fmt.Errorf("%w: message content is too long (max %d characters)", ErrInvalidInput, maxMessageLength)
	}

	// 2. 检查权限
	if err := cs.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	// 3. 保存消息（AfterCreate 同步会话的最后一条消息）
	message := &models.Message{ChatID: chatID, SenderID: userID, Content: content}
	if err := cs.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	// 4. 未读计数与广播
	participants, err := cs.ChatParticipants(ctx, chatID)
	if err != nil {
		logger.L().Warn("load chat participants failed", zap.String("chat_id", chatID), zap.Error(err))
		return message, nil
	}
	receivers := make([]string, 0, len(participants))
	for _, uid := range participants {
		if uid != userID {
			receivers = append(receivers, uid)
		}
	}
	cs.afterSend(ctx, message, receivers)
	return message, nil
}

func (cs *ChatService) afterSend(ctx context.Context, message *models.Message, receivers []string) {
	if cs.rdb == nil {
		return
	}
	pipe := cs.rdb.Pipeline()
	for _, uid := range receivers {
		key := unreadKey(uid, message.ChatID)
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, unreadTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L().Warn("update unread counters failed", zap.String("chat_id", message.ChatID), zap.Error(err))
	}

	payload, err := json.Marshal(ChatBroadcast{
		Type:      "message",
		ChatID:    message.ChatID,
		SenderID:  message.SenderID,
		Receivers: receivers,
		Message:   message,
		Timestamp: message.CreatedAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := cs.rdb.Publish(ctx, ChatBroadcastChannel, payload).Err(); err != nil {
		logger.L().Warn("broadcast message failed", zap.String("chat_id", message.ChatID), zap.Error(err))
	}
}

// GetMessages 分页获取消息，按时间正序返回
func (cs *ChatService) GetMessages(ctx context.Context, chatID, userID string, page, limit int) ([]models.Message, int64, error) {
	if err := cs.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = defaultMessageCap
	}

	db := cs.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	var messages []models.Message
	if err := db.Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	// 反转为正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// MarkAsRead 标记会话中对方的消息为已读并清空未读计数
func (cs *ChatService) MarkAsRead(ctx context.Context, chatID, userID string) error {
	if err := cs.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := cs.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, userID, false).
		Update("is_read", true).Error; err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if cs.rdb != nil {
		if err := cs.rdb.Del(ctx, unreadKey(userID, chatID)).Err(); err != nil {
			logger.L().Warn("clear unread counter failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return nil
}

// unreadFromDB 没有Redis时按 is_read 统计
func (cs *ChatService) unreadFromDB(ctx context.Context, userID string, chatIDs ...string) (map[string]int64, error) {
	var rows []struct {
		ChatID string
		Count  int64
	}
	query := cs.db.WithContext(ctx).Model(&models.Message{}).
		Select("messages.chat_id, COUNT(*) AS count").
		Joins("JOIN chat_users ON chat_users.chat_id = messages.chat_id AND chat_users.user_id = ?", userID).
		Where("messages.sender_id <> ? AND messages.is_read = ?", userID, false)
	if len(chatIDs) > 0 {
		query = query.Where("messages.chat_id IN ?", chatIDs)
	}
	if err := query.Group("messages.chat_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.ChatID] = r.Count
	}
	return counts, nil
}

func (cs *ChatService) unread(ctx context.Context, userID, chatID string) int64 {
	if cs.rdb == nil {
		counts, err := cs.unreadFromDB(ctx, userID, chatID)
		if err != nil {
			return 0
		}
		return counts[chatID]
	}
	n, err := cs.rdb.Get(ctx, unreadKey(userID, chatID)).Int64()
	if err != nil {
		return 0
	}
	return n
}

// GetUnreadCount 获取各会话未读数与总数
func (cs *ChatService) GetUnreadCount(ctx context.Context, userID string) (map[string]int64, int64, error) {
	if cs.rdb == nil {
		perChat, err := cs.unreadFromDB(ctx, userID)
		if err != nil {
			return nil, 0, fmt.Errorf("count unread messages: %w", err)
		}
		var total int64
		for _, n := range perChat {
			total += n
		}
		return perChat, total, nil
	}

	perChat := make(map[string]int64)

	prefix := fmt.Sprintf("unread:%s:", userID)
	var total int64
	iter := cs.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		count, err := cs.rdb.Get(ctx, key).Int64()
		if err != nil {
			continue
		}
		perChat[strings.TrimPrefix(key, prefix)] = count
		total += count
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan unread counters: %w", err)
	}
	return perChat, total, nil
}

// ==================== 在线状态 ====================

// SetUserOnline 设置用户在线
func (cs *ChatService) SetUserOnline(ctx context.Context, userID string) {
	if cs.rdb == nil {
		return
	}
	cs.rdb.SAdd(ctx, onlineUsersKey, userID)
}

// SetUserOffline 设置用户离线
func (cs *ChatService) SetUserOffline(ctx context.Context, userID string) {
	if cs.rdb == nil {
		return
	}
	cs.rdb.SRem(ctx, onlineUsersKey, userID)
}

// GetOnlineUsers 获取在线用户列表
func (cs *ChatService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	if cs.rdb == nil {
		return nil, nil
	}
	return cs.rdb.SMembers(ctx, onlineUsersKey).Result()
}
