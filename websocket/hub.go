package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bookswap_go/config"
	"bookswap_go/logger"
	"bookswap_go/middleware"
	"bookswap_go/models"
	"bookswap_go/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChatBackend 聊天相关的服务能力
type ChatBackend interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	ChatParticipants(ctx context.Context, chatID string) ([]string, error)
	SendMessage(ctx context.Context, chatID, userID, content string) (*models.Message, error)
	MarkAsRead(ctx context.Context, chatID, userID string) error
	GetUnreadCount(ctx context.Context, userID string) (map[string]int64, int64, error)
	SetUserOnline(ctx context.Context, userID string)
	SetUserOffline(ctx context.Context, userID string)
}

// WSMessage WebSocket消息结构
type WSMessage struct {
	Type      string      `json:"type"` // message, typing, read, join_chat, leave_chat, ping, pong, notification, error
	ChatID    string      `json:"chat_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
}

// Hub 管理所有连接，按用户和聊天室路由消息
type Hub struct {
	chats    ChatBackend
	auth     middleware.TokenValidator
	rdb      *redis.Client
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu    sync.RWMutex
	users map[string]map[*Client]struct{} // userID -> 连接
	rooms map[string]map[*Client]struct{} // chatID -> 已加入的连接

	ready chan struct{}
	once  sync.Once
}

// NewHub 创建Hub，rdb 为 nil 时只在本机内分发
func NewHub(chats ChatBackend, auth middleware.TokenValidator, rdb *redis.Client, allowedOrigins []string) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		chats: chats,
		auth:  auth,
		rdb:   rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins[origin]
			},
		},
		log:   logger.Named("websocket"),
		users: make(map[string]map[*Client]struct{}),
		rooms: make(map[string]map[*Client]struct{}),
		ready: make(chan struct{}),
	}
}

// Ready 订阅建立后关闭
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) markReady() {
	h.once.Do(func() { close(h.ready) })
}

// Run 订阅 Redis 的聊天广播和用户通知频道并转发给本机连接，ctx 取消后退出
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		h.markReady()
		<-ctx.Done()
		h.closeAll()
		return nil
	}

	pubsub := h.rdb.Subscribe(ctx, services.ChatBroadcastChannel, services.NotificationChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	h.markReady()
	h.log.Info("websocket hub subscribed",
		zap.Strings("channels", []string{services.ChatBroadcastChannel, services.NotificationChannel}))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.route(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) route(channel string, payload []byte) {
	switch channel {
	case services.ChatBroadcastChannel:
		var b services.ChatBroadcast
		if err := json.Unmarshal(payload, &b); err != nil {
			h.log.Warn("invalid chat broadcast", zap.Error(err))
			return
		}
		h.dispatch(&b)
	case services.NotificationChannel:
		var n services.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			h.log.Warn("invalid notification", zap.Error(err))
			return
		}
		h.sendToUser(n.UserID, &WSMessage{
			Type:      "notification",
			Data:      n,
			Timestamp: n.Timestamp,
		}, "")
	}
}

// dispatch 将聊天广播投递给接收者；输入状态和已读回执只发给已加入该聊天室的连接
func (h *Hub) dispatch(b *services.ChatBroadcast) {
	msg := &WSMessage{
		Type:      b.Type,
		ChatID:    b.ChatID,
		From:      b.SenderID,
		Timestamp: b.Timestamp,
	}
	if b.Message != nil {
		msg.Data = b.Message
	}

	roomOnly := ""
	if b.Type != "message" {
		roomOnly = b.ChatID
	}
	for _, userID := range b.Receivers {
		h.sendToUser(userID, msg, roomOnly)
	}
	if b.Type == "message" {
		// 发送者的其他设备同步
		h.sendToUser(b.SenderID, msg, "")
	}
}

// publish 多实例部署时经 Redis 广播，否则直接本机分发
func (h *Hub) publish(ctx context.Context, b *services.ChatBroadcast) {
	if h.rdb == nil {
		h.dispatch(b)
		return
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, services.ChatBroadcastChannel, payload).Err(); err != nil {
		h.log.Warn("publish chat broadcast failed", zap.String("chat_id", b.ChatID), zap.Error(err))
	}
}

func (h *Hub) sendToUser(userID string, msg *WSMessage, roomOnly string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.users[userID] {
		if roomOnly != "" {
			if _, joined := h.rooms[roomOnly][client]; !joined {
				continue
			}
		}
		client.enqueue(msg)
	}
}

// OnlineConnections 当前连接数
func (h *Hub) OnlineConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// HandleConnection 处理WebSocket连接，token 通过查询参数或 Authorization 头传入
func (h *Hub) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c)
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 40100, "message": "token is required"})
		return
	}
	claims, err := h.auth.ValidateAccessToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 40100, "message": "invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade websocket failed", zap.Error(err))
		return
	}

	client := newClient(h, claims, conn)
	h.register(client)

	go client.writePump()
	go client.readPump()

	h.sendUnreadSummary(client)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	conns, ok := h.users[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[client.userID] = conns
	}
	conns[client] = struct{}{}
	first := len(conns) == 1
	h.mu.Unlock()

	if first {
		h.chats.SetUserOnline(context.Background(), client.userID)
	}
	h.log.Info("user connected", zap.String("user_id", client.userID))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	conns := h.users[client.userID]
	if _, ok := conns[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, client)
	last := len(conns) == 0
	if last {
		delete(h.users, client.userID)
	}
	for chatID, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	h.mu.Unlock()

	client.close()
	if last {
		h.chats.SetUserOffline(context.Background(), client.userID)
	}
	h.log.Info("user disconnected", zap.String("user_id", client.userID))
}

func (h *Hub) join(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[chatID] = members
	}
	members[client] = struct{}{}
}

func (h *Hub) leave(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) sendUnreadSummary(client *Client) {
	perChat, total, err := h.chats.GetUnreadCount(context.Background(), client.userID)
	if err != nil {
		h.log.Warn("load unread counts failed", zap.String("user_id", client.userID), zap.Error(err))
		return
	}
	client.enqueue(&WSMessage{
		Type:      "unread",
		Data:      gin.H{"chats": perChat, "total": total},
		Timestamp: time.Now().Unix(),
	})
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Client
	for _, conns := range h.users {
		for client := range conns {
			all = append(all, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range all {
		h.unregister(client)
	}
}

// otherParticipants 聊天中除自己以外的参与者
func (h *Hub) otherParticipants(ctx context.Context, chatID, userID string) []string {
	participants, err := h.chats.ChatParticipants(ctx, chatID)
	if err != nil {
		h.log.Warn("load chat participants failed", zap.String("chat_id", chatID), zap.Error(err))
		return nil
	}
	others := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// claimsUser 连接所属用户
func claimsUser(claims *config.Claims) string {
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}
