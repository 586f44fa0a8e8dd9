package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 互动计数缓存：hash storyhub:counts:<kind>:<id> {like, dislike}
// 代数 storyhub:counts:gen:<kind>:<id>，每次失效自增
// 写路径在事务提交后自增代数并删除缓存；读路径回源前记下代数，回填时代数未变才写入
const (
	CountsKeyPrefix    = "storyhub:counts:"
	CountsGenKeyPrefix = "storyhub:counts:gen:"
)

// 代数键存活时间远大于缓存 TTL
const genTTL = 24 * time.Hour

// KEYS[1] 计数 hash，KEYS[2] 代数；ARGV: 期望代数, like, dislike, ttl 秒
var setIfFreshScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'like', ARGV[2], 'dislike', ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// CounterCache 目标互动计数的旁路缓存
type CounterCache struct {
	ttl time.Duration
}

func NewCounterCache(ttl time.Duration) *CounterCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CounterCache{ttl: ttl}
}

func countsKey(kind string, id uint) string {
	return fmt.Sprintf("%s%s:%d", CountsKeyPrefix, kind, id)
}

func countsGenKey(kind string, id uint) string {
	return fmt.Sprintf("%s%s:%d", CountsGenKeyPrefix, kind, id)
}

// Get 读取缓存与当前代数，ok=false 表示未命中
// 未命中时调用方回源后用返回的 gen 调用 SetIfFresh
func (c *CounterCache) Get(ctx context.Context, kind string, id uint) (like, dislike, gen int64, ok bool, err error) {
	if client == nil {
		return 0, 0, 0, false, ErrNotInitialized
	}

	pipe := client.Pipeline()
	valuesCmd := pipe.HGetAll(ctx, countsKey(kind, id))
	genCmd := pipe.Get(ctx, countsGenKey(kind, id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, false, fmt.Errorf("获取互动计数缓存失败: %w", err)
	}

	gen, err = genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, false, fmt.Errorf("解析互动计数代数失败: %w", err)
	}

	values := valuesCmd.Val()
	likeStr, hasLike := values["like"]
	dislikeStr, hasDislike := values["dislike"]
	if !hasLike || !hasDislike {
		return 0, 0, gen, false, nil
	}

	like, err = strconv.ParseInt(likeStr, 10, 64)
	if err != nil {
		return 0, 0, gen, false, fmt.Errorf("解析互动计数缓存失败: %w", err)
	}
	dislike, err = strconv.ParseInt(dislikeStr, 10, 64)
	if err != nil {
		return 0, 0, gen, false, fmt.Errorf("解析互动计数缓存失败: %w", err)
	}
	return like, dislike, gen, true, nil
}

// SetIfFresh 代数仍为 gen 时回填缓存，返回是否写入
// 读取之后发生过失效则放弃回填，避免旧计数覆盖新提交
func (c *CounterCache) SetIfFresh(ctx context.Context, kind string, id uint, gen, like, dislike int64) (bool, error) {
	if client == nil {
		return false, ErrNotInitialized
	}

	keys := []string{countsKey(kind, id), countsGenKey(kind, id)}
	n, err := setIfFreshScript.Run(ctx, client, keys, gen, like, dislike, int64(c.ttl/time.Second)).Int64()
	if err != nil {
		return false, fmt.Errorf("设置互动计数缓存失败: %w", err)
	}
	return n == 1, nil
}

// Invalidate 自增代数并删除缓存
func (c *CounterCache) Invalidate(ctx context.Context, kind string, id uint) error {
	if client == nil {
		return ErrNotInitialized
	}

	genKey := countsGenKey(kind, id)
	pipe := client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, genTTL)
	pipe.Del(ctx, countsKey(kind, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("删除互动计数缓存失败: %w", err)
	}
	return nil
}
