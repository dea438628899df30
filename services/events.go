package services

import (
	"context"
	"encoding/json"
	"time"

	"bookswap_go/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis Stream / 频道名
const (
	StreamMatchEvents    = "events:matches"
	StreamExchangeEvents = "events:exchanges"
	StreamPaymentEvents  = "events:payments"
	StreamListingEvents  = "events:listings"

	NotificationChannel = "notifications"

	eventStreamMaxLen = 10000
)

// Notification 推送给某个用户的实时通知
type Notification struct {
	UserID    string      `json:"user_id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// EventPublisher 领域事件发布（Redis Stream）与用户通知（Redis Pub/Sub）
// redis 为 nil 时所有方法为空操作
type EventPublisher struct {
	rdb *redis.Client
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{rdb: rdb}
}

// Publish 追加一条领域事件，失败只记录日志
func (p *EventPublisher) Publish(ctx context.Context, stream, event string, fields map[string]interface{}) {
	if p == nil || p.rdb == nil {
		return
	}

	values := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().Unix(),
	}
	for k, v := range fields {
		values[k] = v
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		logger.L().Warn("publish event failed",
			zap.String("stream", stream), zap.String("event", event), zap.Error(err))
	}
}

// Notify 向若干用户推送通知，由 websocket 订阅转发
func (p *EventPublisher) Notify(ctx context.Context, notificationType string, data interface{}, userIDs ...string) {
	if p == nil || p.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	for _, userID := range userIDs {
		payload, err := json.Marshal(Notification{
			UserID:    userID,
			Type:      notificationType,
			Data:      data,
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			logger.L().Warn("marshal notification failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if err := p.rdb.Publish(ctx, NotificationChannel, payload).Err(); err != nil {
			logger.L().Warn("publish notification failed",
				zap.String("user_id", userID), zap.String("type", notificationType), zap.Error(err))
		}
	}
}

// ListingCacheKey 发布详情缓存键
func ListingCacheKey(id string) string {
	return "listing:" + id
}

// ListingsChanged 发布状态变化：追加事件并清除详情缓存
func (p *EventPublisher) ListingsChanged(ctx context.Context, status string, ids ...string) {
	if p == nil || p.rdb == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ListingCacheKey(id)
		p.Publish(ctx, StreamListingEvents, "listing.status_changed", map[string]interface{}{
			"published_book_id": id,
			"status":            status,
		})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.L().Warn("evict listing cache failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
