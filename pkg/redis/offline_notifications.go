package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Notification 用户离线期间产生的通知（好友申请、申请被接受等）
type Notification struct {
	Type      string          `json:"type"`
	ActorID   uint            `json:"actor_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// 离线通知相关常量
const (
	OfflineNotificationsKeyPrefix = "storyhub:offline:" // 离线通知key前缀
	OfflineNotificationsTTL       = 7 * 24 * time.Hour  // 7天过期
	OfflineNotificationsMax       = 100                 // 每个用户最多保存条数
)

func offlineKey(userID uint) string {
	return fmt.Sprintf("%s%d", OfflineNotificationsKeyPrefix, userID)
}

// AddOfflineNotification 添加离线通知
func AddOfflineNotification(ctx context.Context, userID uint, n *Notification) error {
	if client == nil {
		return ErrNotInitialized
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化离线通知失败: %w", err)
	}

	key := offlineKey(userID)
	// 使用LPUSH添加到列表头部（最新的在前面），并限制数量
	pipe := client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, OfflineNotificationsMax-1)
	pipe.Expire(ctx, key, OfflineNotificationsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("添加离线通知失败: %w", err)
	}

	return nil
}

// PopOfflineNotifications 取出并清空用户的离线通知，按时间从旧到新返回
func PopOfflineNotifications(ctx context.Context, userID uint) ([]*Notification, error) {
	if client == nil {
		return nil, ErrNotInitialized
	}

	key := offlineKey(userID)
	pipe := client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("获取离线通知失败: %w", err)
	}

	results := rangeCmd.Val()
	notifications := make([]*Notification, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var n Notification
		if err := json.Unmarshal([]byte(results[i]), &n); err != nil {
			continue // 跳过无法解析的通知
		}
		notifications = append(notifications, &n)
	}

	return notifications, nil
}
