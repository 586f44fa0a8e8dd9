package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 在线状态相关常量
const (
	PresenceKeyPrefix = "storyhub:presence:user:" // 用户在线状态key前缀
	PresenceTTL       = 2 * time.Minute           // 在线状态TTL（2倍心跳周期）
)

func presenceKey(userID uint) string {
	return fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)
}

// MarkOnline 标记用户在线（建立连接或心跳时调用）
func MarkOnline(ctx context.Context, userID uint) error {
	if client == nil {
		return ErrNotInitialized
	}

	if err := client.Set(ctx, presenceKey(userID), time.Now().Unix(), PresenceTTL).Err(); err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}
	return nil
}

// MarkOffline 移除用户在线状态
func MarkOffline(ctx context.Context, userID uint) error {
	if client == nil {
		return ErrNotInitialized
	}

	if err := client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("删除用户在线状态失败: %w", err)
	}
	return nil
}

// OnlineAmong 批量查询用户是否在线
func OnlineAmong(ctx context.Context, userIDs []uint) (map[uint]bool, error) {
	if client == nil {
		return nil, ErrNotInitialized
	}

	online := make(map[uint]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}

	pipe := client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("批量检查在线状态失败: %w", err)
	}

	for i, id := range userIDs {
		online[id] = cmds[i].Val() > 0
	}
	return online, nil
}
