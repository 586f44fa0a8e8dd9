package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storyhub/config"
	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/logger"
	"storyhub/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CounterAggregator 维护目标上的冗余计数
// 只写计数列，调用方必须在校验记录变更的同一事务内调用 Apply* 方法
type CounterAggregator struct {
	strategy    string
	concurrency int
	counters    *repository.CounterRepository
	group       singleflight.Group
}

func NewCounterAggregator(counters *repository.CounterRepository, cfg config.ConsistencyConfig) *CounterAggregator {
	strategy := cfg.CounterStrategy
	switch strategy {
	case config.CounterStrategyIncremental, config.CounterStrategyRecompute:
	default:
		logger.Warn("未知的计数策略，使用 incremental", zap.String("strategy", strategy))
		strategy = config.CounterStrategyIncremental
	}
	concurrency := cfg.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &CounterAggregator{
		strategy:    strategy,
		concurrency: concurrency,
		counters:    counters,
	}
}

// Strategy 当前部署使用的计数策略
func (a *CounterAggregator) Strategy() string { return a.strategy }

// GuardTarget 在读取互动记录之前确认目标存在
// recompute 策略在此处对目标行加锁，同一目标上的切换串行执行
func (a *CounterAggregator) GuardTarget(tx repository.CounterTx, target model.TargetRef) error {
	var err error
	if a.strategy == config.CounterStrategyRecompute {
		_, err = tx.LockTarget(target)
	} else {
		_, err = tx.TargetCounts(target)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundf("%s not found", target)
	}
	return err
}

// ApplyReaction 将一次切换反映到目标计数上，返回写入后的计数
func (a *CounterAggregator) ApplyReaction(tx repository.CounterTx, target model.TargetRef, delta model.CounterDelta) (model.ReactionCounts, error) {
	if a.strategy == config.CounterStrategyRecompute {
		counts, err := tx.CountReactions(target)
		if err != nil {
			return model.ReactionCounts{}, err
		}
		if err := tx.SetReactionCounts(target, counts); err != nil {
			return model.ReactionCounts{}, err
		}
		return counts, nil
	}

	if err := tx.AddReactionCounts(target, delta); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ReactionCounts{}, notFoundf("%s not found", target)
		}
		return model.ReactionCounts{}, err
	}
	return tx.TargetCounts(target)
}

// GuardFriendship 必须是好友关系事务内的第一条语句
// recompute 策略在此处对双方用户行加锁，可重复读的快照在拿到锁之后才建立
func (a *CounterAggregator) GuardFriendship(tx repository.CounterTx, userA, userB uint) error {
	if a.strategy != config.CounterStrategyRecompute {
		return nil
	}
	err := tx.LockUsers(userA, userB)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundf("user not found")
	}
	return err
}

// ApplyFriendship 将好友关系变更反映到双方的好友数上
// recompute 策略要求同一事务已先调用 GuardFriendship
func (a *CounterAggregator) ApplyFriendship(tx repository.CounterTx, userA, userB uint, delta int64) error {
	if delta == 0 {
		return nil
	}
	if a.strategy == config.CounterStrategyRecompute {
		for _, id := range []uint{userA, userB} {
			n, err := tx.CountFriends(id)
			if err != nil {
				return err
			}
			if err := tx.SetFriendCount(id, n); err != nil {
				return err
			}
		}
		return nil
	}

	err := tx.AddFriendCount(delta, userA, userB)
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundf("user not found")
	}
	return err
}

// ReconcileResult 一次目标计数修复的结果
type ReconcileResult struct {
	Target model.TargetRef      `json:"target"`
	Before model.ReactionCounts `json:"before"`
	After  model.ReactionCounts `json:"after"`
}

// Drifted 修复前计数是否与重新统计的结果不一致
func (r ReconcileResult) Drifted() bool { return r.Before != r.After }

// Reconcile 在目标行锁内重新统计并覆盖计数
// 目标不存在（或已软删除）但仍有互动记录引用时返回 ErrConsistency，不做自动修复
// 同一目标的并发修复合并为一次
func (a *CounterAggregator) Reconcile(ctx context.Context, target model.TargetRef) (ReconcileResult, error) {
	if !target.Valid() {
		return ReconcileResult{}, validationf("invalid target %s", target)
	}
	v, err, _ := a.group.Do(target.String(), func() (interface{}, error) {
		return a.reconcile(ctx, target)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return v.(ReconcileResult), nil
}

func (a *CounterAggregator) reconcile(ctx context.Context, target model.TargetRef) (ReconcileResult, error) {
	result := ReconcileResult{Target: target}
	var missing, orphaned bool

	err := a.counters.Atomic(ctx, func(tx repository.CounterTx) error {
		before, deleted, err := tx.LockTargetUnscoped(target)
		if errors.Is(err, repository.ErrNotFound) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		counts, err := tx.CountReactions(target)
		if err != nil {
			return err
		}
		if deleted {
			missing = true
			orphaned = counts.Like+counts.Dislike > 0
			return nil
		}
		result.Before, result.After = before, counts
		if !result.Drifted() {
			return nil
		}
		return tx.SetReactionCounts(target, counts)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if missing {
		if !orphaned {
			n, err := a.counters.CountReactionsReferencing(ctx, target)
			if err != nil {
				return ReconcileResult{}, err
			}
			orphaned = n > 0
		}
		if orphaned {
			metrics.ConsistencyErrors.WithLabelValues(string(target.Kind)).Inc()
			logger.Error("互动记录引用了不存在的目标", zap.String("target", target.String()))
			return ReconcileResult{}, consistencyf("%s is missing but still referenced by reactions", target)
		}
		return ReconcileResult{}, notFoundf("%s not found", target)
	}

	if result.Drifted() {
		metrics.DriftTotal.WithLabelValues(string(target.Kind)).Inc()
		logger.Warn("计数偏差已修复",
			zap.String("target", target.String()),
			zap.Int64("like_before", result.Before.Like),
			zap.Int64("like_after", result.After.Like),
			zap.Int64("dislike_before", result.Before.Dislike),
			zap.Int64("dislike_after", result.After.Dislike),
		)
	}
	return result, nil
}

// FriendCountResult 一次好友数修复的结果
type FriendCountResult struct {
	UserID uint  `json:"user_id"`
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// ReconcileFriendCount 在用户行锁内重新统计好友数
func (a *CounterAggregator) ReconcileFriendCount(ctx context.Context, userID uint) (FriendCountResult, error) {
	if userID == 0 {
		return FriendCountResult{}, validationf("user id is required")
	}
	v, err, _ := a.group.Do(fmt.Sprintf("user:%d", userID), func() (interface{}, error) {
		result := FriendCountResult{UserID: userID}
		err := a.counters.Atomic(ctx, func(tx repository.CounterTx) error {
			if err := tx.LockUsers(userID); err != nil {
				return err
			}
			before, err := tx.FriendCount(userID)
			if err != nil {
				return err
			}
			after, err := tx.CountFriends(userID)
			if err != nil {
				return err
			}
			result.Before, result.After = before, after
			if before == after {
				return nil
			}
			return tx.SetFriendCount(userID, after)
		})
		if errors.Is(err, repository.ErrNotFound) {
			return FriendCountResult{}, notFoundf("user %d not found", userID)
		}
		return result, err
	})
	if err != nil {
		return FriendCountResult{}, err
	}

	result := v.(FriendCountResult)
	if result.Before != result.After {
		metrics.DriftTotal.WithLabelValues("user").Inc()
		logger.Warn("好友数偏差已修复",
			zap.Uint("user_id", userID),
			zap.Int64("before", result.Before),
			zap.Int64("after", result.After),
		)
	}
	return result, nil
}

// ReconcileReport 批量修复汇总
type ReconcileReport struct {
	Kind         string            `json:"kind"`
	Checked      int               `json:"checked"`
	Repaired     int               `json:"repaired"`
	Inconsistent []model.TargetRef `json:"inconsistent,omitempty"`
}

// ReconcileAll 修复某类目标的全部计数，并发度受配置限制
// 发现的数据损坏汇总在报告中，不中断其它目标的修复
func (a *CounterAggregator) ReconcileAll(ctx context.Context, kind model.TargetKind) (ReconcileReport, error) {
	if !kind.Valid() {
		return ReconcileReport{}, validationf("invalid target kind %q", kind)
	}
	ids, err := a.counters.TargetIDs(ctx, kind)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Kind: string(kind)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range ids {
		target, _ := model.NewTargetRef(kind, id)
		g.Go(func() error {
			res, err := a.Reconcile(gctx, target)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrConsistency):
				report.Checked++
				report.Inconsistent = append(report.Inconsistent, target)
				return nil
			case errors.Is(err, ErrNotFound):
				return nil
			case err != nil:
				return err
			}
			report.Checked++
			if res.Drifted() {
				report.Repaired++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// ReconcileAllFriendCounts 修复全部用户的好友数
func (a *CounterAggregator) ReconcileAllFriendCounts(ctx context.Context) (ReconcileReport, error) {
	ids, err := a.counters.UserIDs(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Kind: "user"}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := a.ReconcileFriendCount(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if res.Before != res.After {
				report.Repaired++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
