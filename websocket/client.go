package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bookswap_go/config"
	"bookswap_go/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8 << 10
	sendBuffer     = 256
	handlerTimeout = 5 * time.Second
)

// Client 一个WebSocket连接
type Client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan *WSMessage

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, claims *config.Claims, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		userID: claimsUser(claims),
		conn:   conn,
		send:   make(chan *WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue 非阻塞投递，发送队列满时断开慢连接
func (c *Client) enqueue(msg *WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.hub.log.Warn("client send queue is full, closing connection", zap.String("user_id", c.userID))
		go c.hub.unregister(c)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump 从连接读取消息
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.replyError("", "invalid message")
			continue
		}
		msg.From = c.userID
		msg.Timestamp = time.Now().Unix()
		c.handleMessage(&msg)
	}
}

// writePump 向连接写入消息并定期发送心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端消息
func (c *Client) handleMessage(msg *WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch msg.Type {
	case "ping":
		c.enqueue(&WSMessage{Type: "pong", Timestamp: time.Now().Unix()})

	case "join_chat":
		if !c.requireParticipant(ctx, msg.ChatID) {
			return
		}
		c.hub.join(c, msg.ChatID)
		c.enqueue(&WSMessage{Type: "joined", ChatID: msg.ChatID, Timestamp: msg.Timestamp})

	case "leave_chat":
		c.hub.leave(c, msg.ChatID)

	case "message":
		message, err := c.hub.chats.SendMessage(ctx, msg.ChatID, c.userID, msg.Content)
		if err != nil {
			c.replyError(msg.ChatID, err.Error())
			return
		}
		// 有 Redis 时由服务层广播
		if c.hub.rdb == nil {
			c.hub.dispatch(&services.ChatBroadcast{
				Type:      "message",
				ChatID:    message.ChatID,
				SenderID:  c.userID,
				Receivers: c.hub.otherParticipants(ctx, message.ChatID, c.userID),
				Message:   message,
				Timestamp: message.CreatedAt.Unix(),
			})
		}

	case "typing":
		if !c.requireParticipant(ctx, msg.ChatID) {
			return
		}
		c.hub.publish(ctx, &services.ChatBroadcast{
			Type:      "typing",
			ChatID:    msg.ChatID,
			SenderID:  c.userID,
			Receivers: c.hub.otherParticipants(ctx, msg.ChatID, c.userID),
			Timestamp: msg.Timestamp,
		})

	case "read":
		if err := c.hub.chats.MarkAsRead(ctx, msg.ChatID, c.userID); err != nil {
			c.replyError(msg.ChatID, err.Error())
			return
		}
		c.hub.publish(ctx, &services.ChatBroadcast{
			Type:      "read",
			ChatID:    msg.ChatID,
			SenderID:  c.userID,
			Receivers: c.hub.otherParticipants(ctx, msg.ChatID, c.userID),
			Timestamp: msg.Timestamp,
		})

	default:
		c.replyError(msg.ChatID, "unknown message type "+msg.Type)
	}
}

func (c *Client) requireParticipant(ctx context.Context, chatID string) bool {
	if chatID == "" {
		c.replyError("", "chat_id is required")
		return false
	}
	ok, err := c.hub.chats.IsParticipant(ctx, chatID, c.userID)
	if err != nil {
		c.hub.log.Warn("check chat participant failed", zap.String("chat_id", chatID), zap.Error(err))
		c.replyError(chatID, "internal server error")
		return false
	}
	if !ok {
		c.replyError(chatID, "chat not found")
		return false
	}
	return true
}

func (c *Client) replyError(chatID, message string) {
	c.enqueue(&WSMessage{
		Type:      "error",
		ChatID:    chatID,
		Content:   message,
		Timestamp: time.Now().Unix(),
	})
}
