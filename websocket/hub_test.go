package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bookswap_go/config"
	"bookswap_go/models"
	"bookswap_go/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChats struct {
	mu           sync.Mutex
	participants map[string][]string
	online       map[string]bool
	read         []string
}

func newFakeChats() *fakeChats {
	return &fakeChats{
		participants: map[string][]string{"c1": {"A", "B"}},
		online:       map[string]bool{},
	}
}

func (f *fakeChats) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range f.participants[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChats) ChatParticipants(_ context.Context, chatID string) ([]string, error) {
	return f.participants[chatID], nil
}

func (f *fakeChats) SendMessage(ctx context.Context, chatID, userID, content string) (*models.Message, error) {
	if ok, _ := f.IsParticipant(ctx, chatID, userID); !ok {
		return nil, services.ErrNotFound
	}
	return &models.Message{ID: "m-" + content, ChatID: chatID, SenderID: userID, Content: content, CreatedAt: time.Now()}, nil
}

func (f *fakeChats) MarkAsRead(_ context.Context, chatID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, chatID+"/"+userID)
	return nil
}

func (f *fakeChats) GetUnreadCount(context.Context, string) (map[string]int64, int64, error) {
	return map[string]int64{"c1": 2}, 2, nil
}

func (f *fakeChats) SetUserOnline(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
}

func (f *fakeChats) SetUserOffline(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
}

func (f *fakeChats) isOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

// tokens: 令牌即用户ID
type tokens struct{}

func (tokens) ValidateAccessToken(_ context.Context, token string) (*config.Claims, error) {
	if token == "" || token == "bad" {
		return nil, errors.New("invalid token")
	}
	return &config.Claims{UserID: token}, nil
}

func startHub(t *testing.T, rdb *redis.Client) (*Hub, *fakeChats, string) {
	t.Helper()
	chats := newFakeChats()
	hub := NewHub(chats, tokens{}, rdb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-hub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not become ready")
	}

	r := gin.New()
	r.GET("/ws", hub.HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, chats, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// 收到 pong 说明连接已注册
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	expect(t, conn, "pong")
	return conn
}

// expect 读取直到出现指定类型的消息
func expect(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestHandleConnectionRequiresToken(t *testing.T) {
	_, _, url := startHub(t, nil)
	httpURL := "http" + strings.TrimPrefix(url, "ws")

	for _, query := range []string{"", "?token=bad"} {
		resp, err := http.Get(httpURL + query)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHubLocalMessageDelivery(t *testing.T) {
	hub, chats, url := startHub(t, nil)
	a := dial(t, url, "A")
	b := dial(t, url, "B")
	assert.True(t, chats.isOnline("A"))
	assert.Equal(t, 2, hub.OnlineConnections())

	require.NoError(t, a.WriteJSON(WSMessage{Type: "message", ChatID: "c1", Content: "hi"}))
	msg := expect(t, b, "message")
	assert.Equal(t, "c1", msg["chat_id"])
	assert.Equal(t, "A", msg["from"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "hi", data["content"])

	// 非参与者不能加入聊天室
	x := dial(t, url, "X")
	require.NoError(t, x.WriteJSON(WSMessage{Type: "join_chat", ChatID: "c1"}))
	errMsg := expect(t, x, "error")
	assert.Equal(t, "chat not found", errMsg["content"])
}

func TestHubRoutesRedisChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, chats, url := startHub(t, rdb)
	a := dial(t, url, "A")
	b := dial(t, url, "B")

	unread := expectUnreadOnFreshConnection(t, url)
	assert.Equal(t, float64(2), unread["total"])

	// 通知按 user_id 投递
	events := services.NewEventPublisher(rdb)
	events.Notify(context.Background(), "match_created", map[string]string{"match_id": "m1"}, "B")
	note := expect(t, b, "notification")
	assert.Equal(t, "match_created", note["data"].(map[string]interface{})["type"])

	// 输入状态只发给已加入聊天室的连接
	require.NoError(t, b.WriteJSON(WSMessage{Type: "join_chat", ChatID: "c1"}))
	expect(t, b, "joined")
	require.NoError(t, a.WriteJSON(WSMessage{Type: "typing", ChatID: "c1"}))
	typing := expect(t, b, "typing")
	assert.Equal(t, "A", typing["from"])

	// 已读回执
	require.NoError(t, a.WriteJSON(WSMessage{Type: "read", ChatID: "c1"}))
	expect(t, b, "read")
	chats.mu.Lock()
	assert.Contains(t, chats.read, "c1/A")
	chats.mu.Unlock()
}

func expectUnreadOnFreshConnection(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=Z", nil)
	require.NoError(t, err)
	defer conn.Close()
	msg := expect(t, conn, "unread")
	return msg["data"].(map[string]interface{})
}
