package service

import (
	"context"
	"errors"
	"time"

	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/events"
	"storyhub/pkg/logger"
	"storyhub/pkg/metrics"
	"storyhub/pkg/redis"

	"go.uber.org/zap"
)

type reactionStore interface {
	Atomic(ctx context.Context, fn func(repository.ReactionTx) error) error
	Counts(ctx context.Context, target model.TargetRef) (model.ReactionCounts, error)
	Get(ctx context.Context, author uint, target model.TargetRef) (*model.Reaction, error)
}

// CountsCache 目标计数的旁路缓存，未启用时各方法返回错误，调用方直接回源
// Get 同时返回失效代数；SetIfFresh 仅在代数未变时回填
type CountsCache interface {
	Get(ctx context.Context, kind string, id uint) (like, dislike, gen int64, ok bool, err error)
	SetIfFresh(ctx context.Context, kind string, id uint, gen, like, dislike int64) (bool, error)
	Invalidate(ctx context.Context, kind string, id uint) error
}

// ReactionService 点赞/点踩的对外操作
type ReactionService struct {
	reactions   reactionStore
	counters    *CounterAggregator
	cache       CountsCache
	sink        events.Sink
	maxAttempts int
}

func NewReactionService(reactions reactionStore, counters *CounterAggregator, cache CountsCache, sink events.Sink, maxAttempts int) *ReactionService {
	if sink == nil {
		sink = events.Nop{}
	}
	if cache == nil {
		cache = redis.NewCounterCache(0)
	}
	return &ReactionService{
		reactions:   reactions,
		counters:    counters,
		cache:       cache,
		sink:        sink,
		maxAttempts: maxAttempts,
	}
}

// ToggleResult 切换后的计数与 actor 当前的互动（取消时为空）
type ToggleResult struct {
	Counts model.ReactionCounts `json:"reactions"`
	Emoji  model.Emoji          `json:"emoji,omitempty"`
}

// ToggleReaction actor 对目标提交 emoji：无则新建，相同则取消，相反则翻转
// 记录变更与计数更新在同一事务内提交
func (s *ReactionService) ToggleReaction(ctx context.Context, actor uint, target model.TargetRef, emoji model.Emoji) (*ToggleResult, error) {
	if actor == 0 {
		return nil, validationf("author is required")
	}
	if !target.Valid() {
		return nil, validationf("invalid target %s", target)
	}
	if !emoji.Valid() {
		return nil, validationf("invalid emoji %q", emoji)
	}

	var result ToggleResult
	err := withRetry(ctx, "reaction.toggle", s.maxAttempts, func() error {
		return s.reactions.Atomic(ctx, func(tx repository.ReactionTx) error {
			if err := s.counters.GuardTarget(tx, target); err != nil {
				return err
			}
			current, err := tx.Find(actor, target)
			if err != nil {
				return err
			}
			outcome, err := ToggleReaction(current, actor, target, emoji)
			if err != nil {
				return err
			}

			switch outcome.Op {
			case OpCreate:
				err = tx.Insert(outcome.Record)
			case OpUpdate:
				err = tx.CompareAndSwap(outcome.Record)
			case OpDelete:
				err = tx.CompareAndDelete(outcome.Record)
			}
			if err != nil {
				return err
			}

			counts, err := s.counters.ApplyReaction(tx, target, outcome.Delta)
			if err != nil {
				return err
			}
			result = ToggleResult{Counts: counts}
			if !outcome.Removed() {
				result.Emoji = outcome.Record.Emoji
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues("reaction.toggle").Inc()
	s.invalidate(ctx, target)
	if err := s.sink.Publish(ctx, events.Event{
		Type:    events.ReactionToggled,
		ActorID: actor,
		Data: map[string]interface{}{
			"target_type": target.Kind,
			"target_id":   target.ID,
			"emoji":       result.Emoji,
			"reactions":   result.Counts,
		},
		At: time.Now(),
	}); err != nil {
		logger.Warn("发布事件失败", zap.String("type", events.ReactionToggled), zap.Error(err))
	}
	return &result, nil
}

// ReconcileCounters 管理修复：重新统计目标计数并覆盖
func (s *ReactionService) ReconcileCounters(ctx context.Context, target model.TargetRef) (ReconcileResult, error) {
	result, err := s.counters.Reconcile(ctx, target)
	if err != nil {
		return ReconcileResult{}, err
	}
	s.invalidate(ctx, target)
	return result, nil
}

// ReactionSummary 目标计数与查看者自己的互动
type ReactionSummary struct {
	Counts model.ReactionCounts `json:"reactions"`
	Mine   model.Emoji          `json:"mine,omitempty"`
}

// GetReactionCounts 读取目标计数（缓存优先）
func (s *ReactionService) GetReactionCounts(ctx context.Context, viewer uint, target model.TargetRef) (*ReactionSummary, error) {
	if !target.Valid() {
		return nil, validationf("invalid target %s", target)
	}

	summary := &ReactionSummary{}
	like, dislike, gen, hit, cacheErr := s.cache.Get(ctx, string(target.Kind), target.ID)
	if cacheErr != nil && !errors.Is(cacheErr, redis.ErrNotInitialized) {
		logger.Warn("读取计数缓存失败", zap.String("target", target.String()), zap.Error(cacheErr))
	}
	if hit {
		summary.Counts = model.ReactionCounts{Like: like, Dislike: dislike}
	} else {
		counts, err := s.reactions.Counts(ctx, target)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("%s not found", target)
		}
		if err != nil {
			return nil, err
		}
		summary.Counts = counts
		// 代数未知时不回填
		if cacheErr == nil {
			s.refill(ctx, target, gen, counts)
		}
	}

	if viewer != 0 {
		mine, err := s.reactions.Get(ctx, viewer, target)
		switch {
		case err == nil:
			summary.Mine = mine.Emoji
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}
	return summary, nil
}

func (s *ReactionService) invalidate(ctx context.Context, target model.TargetRef) {
	err := s.cache.Invalidate(ctx, string(target.Kind), target.ID)
	if err != nil && !errors.Is(err, redis.ErrNotInitialized) {
		logger.Warn("删除计数缓存失败", zap.String("target", target.String()), zap.Error(err))
	}
}

func (s *ReactionService) refill(ctx context.Context, target model.TargetRef, gen int64, counts model.ReactionCounts) {
	stored, err := s.cache.SetIfFresh(ctx, string(target.Kind), target.ID, gen, counts.Like, counts.Dislike)
	switch {
	case err != nil:
		logger.Warn("回填计数缓存失败", zap.String("target", target.String()), zap.Error(err))
	case !stored:
		logger.Debug("计数缓存已失效，放弃回填", zap.String("target", target.String()), zap.Int64("gen", gen))
	}
}
