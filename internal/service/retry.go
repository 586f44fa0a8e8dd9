package service

import (
	"context"
	"errors"
	"fmt"

	"storyhub/internal/repository"
	"storyhub/pkg/logger"
	"storyhub/pkg/metrics"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// withRetry 执行一次乐观并发事务，遇到 repository.ErrStale 时重试
// 每次尝试都在新事务中重新读取；用尽次数后返回包装了 ErrStale 的冲突错误
func withRetry(ctx context.Context, op string, maxAttempts int, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, repository.ErrStale) {
			return err
		}
		metrics.RetryTotal.WithLabelValues(op).Inc()
		logger.Debug("版本冲突，重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
		)
	}
	metrics.ConflictTotal.WithLabelValues(op).Inc()
	logger.Warn("重试次数用尽",
		zap.String("op", op),
		zap.Int("attempts", maxAttempts),
	)
	return fmt.Errorf("%w: %s: concurrent modification after %d attempts: %w", ErrConflict, op, maxAttempts, err)
}
