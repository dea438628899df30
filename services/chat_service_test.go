package services

import (
	"encoding/json"
	"testing"
	"time"

	"bookswap_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestFlow(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedListing(t, db, "10", "B", models.TransactionTypeSale)
	svc := NewChatService(db, nil, nil)
	ctx := testContext(t)

	_, err := svc.SendChatRequest(ctx, "A", "A", nil, "hi")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SendChatRequest(ctx, "A", "nobody", nil, "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	book := "10"
	req, err := svc.SendChatRequest(ctx, "A", "B", &book, "is it still available?")
	require.NoError(t, err)
	assert.Equal(t, models.ChatRequestPending, req.Status)

	// 反方向的重复请求也算冲突
	_, err = svc.SendChatRequest(ctx, "B", "A", nil, "hi")
	assert.ErrorIs(t, err, ErrConflict)

	received, sent, err := svc.GetChatRequests(ctx, "B")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Empty(t, sent)
	require.NotNil(t, received[0].Sender)

	_, err = svc.RespondChatRequest(ctx, req.ID, "A", true)
	assert.ErrorIs(t, err, ErrForbidden)

	accepted, err := svc.RespondChatRequest(ctx, req.ID, "B", true)
	require.NoError(t, err)
	assert.Equal(t, models.ChatRequestAccepted, accepted.Status)
	require.NotNil(t, accepted.ChatID)

	_, err = svc.RespondChatRequest(ctx, req.ID, "B", false)
	assert.ErrorIs(t, err, ErrConflict)

	// 第二次同意复用同一个会话
	again, err := svc.SendChatRequest(ctx, "B", "A", nil, "hello again")
	require.NoError(t, err)
	reused, err := svc.RespondChatRequest(ctx, again.ID, "A", true)
	require.NoError(t, err)
	assert.Equal(t, *accepted.ChatID, *reused.ChatID)
	assert.Equal(t, int64(1), countRows(t, db, &models.Chat{}, ""))
}

func TestChatMessagesAndUnread(t *testing.T) {
	db := newTestDB(t)
	mr, rdb := newTestRedis(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	seedUser(t, db, "C")
	svc := NewChatService(db, rdb, nil)
	ctx := testContext(t)

	req, err := svc.SendChatRequest(ctx, "A", "B", nil, "")
	require.NoError(t, err)
	req, err = svc.RespondChatRequest(ctx, req.ID, "B", true)
	require.NoError(t, err)
	chatID := *req.ChatID

	sub := rdb.Subscribe(ctx, ChatBroadcastChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, chatID, "C", "intruder")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.SendMessage(ctx, chatID, "A", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	msg, err := svc.SendMessage(ctx, chatID, "A", "hello")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, chatID, "A", "are you there?")
	require.NoError(t, err)

	select {
	case raw := <-sub.Channel():
		var broadcast ChatBroadcast
		require.NoError(t, json.Unmarshal([]byte(raw.Payload), &broadcast))
		assert.Equal(t, chatID, broadcast.ChatID)
		assert.Equal(t, []string{"B"}, broadcast.Receivers)
		assert.Equal(t, msg.ID, broadcast.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}

	assert.Equal(t, "2", mustGet(t, mr, unreadKey("B", chatID)))

	chats, err := svc.GetChats(ctx, "B")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(2), chats[0].UnreadCount)
	assert.Equal(t, "are you there?", chats[0].Chat.LastMessage)
	require.NotNil(t, chats[0].Chat.LastSenderID)
	assert.Equal(t, "A", *chats[0].Chat.LastSenderID)

	perChat, total, err := svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), perChat[chatID])

	messages, count, err := svc.GetMessages(ctx, chatID, "B", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)

	require.NoError(t, svc.MarkAsRead(ctx, chatID, "B"))
	assert.False(t, mr.Exists(unreadKey("B", chatID)))
	assert.Zero(t, countRows(t, db, &models.Message{}, "is_read = ?", false))

	require.NoError(t, svc.DeleteChat(ctx, chatID, "A"))
	chats, err = svc.GetChats(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func mustGet(t *testing.T, mr interface{ Get(string) (string, error) }, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestUnreadCountWithoutRedis(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "A")
	seedUser(t, db, "B")
	svc := NewChatService(db, nil, nil)
	ctx := testContext(t)

	req, err := svc.SendChatRequest(ctx, "A", "B", nil, "")
	require.NoError(t, err)
	req, err = svc.RespondChatRequest(ctx, req.ID, "B", true)
	require.NoError(t, err)
	chatID := *req.ChatID

	for _, text := range []string{"one", "two", "three"} {
		_, err = svc.SendMessage(ctx, chatID, "A", text)
		require.NoError(t, err)
	}
	_, err = svc.SendMessage(ctx, chatID, "B", "reply")
	require.NoError(t, err)

	perChat, total, err := svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(3), perChat[chatID])

	chats, err := svc.GetChats(ctx, "A")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, int64(1), chats[0].UnreadCount)

	require.NoError(t, svc.MarkAsRead(ctx, chatID, "B"))
	_, total, err = svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Zero(t, total)
}
