package repository

import (
	"context"
	"errors"

	"storyhub/internal/model"

	"gorm.io/gorm"
)

// ReactionTx 事务内的互动记录存取
type ReactionTx interface {
	CounterTx

	// Find 查找作者对目标的互动，不存在时返回 nil, nil
	Find(author uint, target model.TargetRef) (*model.Reaction, error)
	// Insert 新建互动；同一 (作者, 目标) 已存在时返回 ErrStale
	Insert(r *model.Reaction) error
	// CompareAndSwap 以 r.Version 为期望版本更新 emoji，成功后 r.Version 自增
	CompareAndSwap(r *model.Reaction) error
	// CompareAndDelete 以 r.Version 为期望版本删除
	CompareAndDelete(r *model.Reaction) error
}

type reactionTx struct {
	counterTx
}

func (t *reactionTx) Find(author uint, target model.TargetRef) (*model.Reaction, error) {
	var r model.Reaction
	err := t.tx.
		Where("author_id = ? AND target_kind = ? AND target_id = ?", author, target.Kind, target.ID).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *reactionTx) Insert(r *model.Reaction) error {
	if r.Version == 0 {
		r.Version = 1
	}
	return translate(t.tx.Create(r).Error)
}

func (t *reactionTx) CompareAndSwap(r *model.Reaction) error {
	res := t.tx.Model(&model.Reaction{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		UpdateColumns(map[string]interface{}{
			"emoji":      r.Emoji,
			"version":    r.Version + 1,
			"updated_at": t.tx.NowFunc(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	r.Version++
	return nil
}

func (t *reactionTx) CompareAndDelete(r *model.Reaction) error {
	res := t.tx.Where("id = ? AND version = ?", r.ID, r.Version).Delete(&model.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

type ReactionRepository struct {
	orm *gorm.DB
}

func NewReactionRepository(orm *gorm.DB) *ReactionRepository {
	return &ReactionRepository{orm: orm}
}

// Atomic 在单个事务内执行 fn，fn 返回错误或 ctx 在提交前取消则整体回滚
func (r *ReactionRepository) Atomic(ctx context.Context, fn func(ReactionTx) error) error {
	return r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&reactionTx{counterTx{tx: tx}})
	})
}

// Counts 读取目标上的冗余计数
func (r *ReactionRepository) Counts(ctx context.Context, target model.TargetRef) (model.ReactionCounts, error) {
	c := &counterTx{tx: r.orm.WithContext(ctx)}
	return c.TargetCounts(target)
}

// Get 读取作者对目标的互动
func (r *ReactionRepository) Get(ctx context.Context, author uint, target model.TargetRef) (*model.Reaction, error) {
	var rec model.Reaction
	err := r.orm.WithContext(ctx).
		Where("author_id = ? AND target_kind = ? AND target_id = ?", author, target.Kind, target.ID).
		First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}
