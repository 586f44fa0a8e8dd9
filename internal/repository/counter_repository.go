package repository

import (
	"context"
	"fmt"
	"sort"

	"storyhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterTx 事务内对冗余计数字段的访问，只写计数列，不触碰关系/互动记录本身
type CounterTx interface {
	// TargetCounts 读取未删除目标上的计数；目标不存在或已软删除返回 ErrNotFound
	TargetCounts(target model.TargetRef) (model.ReactionCounts, error)
	// LockTarget 对未删除目标加行锁并返回当前计数
	LockTarget(target model.TargetRef) (model.ReactionCounts, error)
	// LockTargetUnscoped 对目标加行锁（包含软删除），deleted 表示目标已软删除
	LockTargetUnscoped(target model.TargetRef) (counts model.ReactionCounts, deleted bool, err error)
	// AddReactionCounts 原子增减：col = col + delta
	AddReactionCounts(target model.TargetRef, delta model.CounterDelta) error
	// SetReactionCounts 覆盖写计数，调用前需已持有目标行锁
	SetReactionCounts(target model.TargetRef, counts model.ReactionCounts) error
	// CountReactions 按 emoji 统计目标上的互动记录数
	CountReactions(target model.TargetRef) (model.ReactionCounts, error)

	// LockUsers 按 ID 升序对用户行加锁
	LockUsers(ids ...uint) error
	// AddFriendCount 原子增减多个用户的好友数
	AddFriendCount(delta int64, ids ...uint) error
	// FriendCount 读取用户上的好友数
	FriendCount(userID uint) (int64, error)
	// CountFriends 统计用户 accepted 状态的关系记录数
	CountFriends(userID uint) (int64, error)
	// SetFriendCount 覆盖写好友数
	SetFriendCount(userID uint, n int64) error
}

type counterTx struct {
	tx *gorm.DB
}

func reactable(kind model.TargetKind) (model.Reactable, error) {
	m, ok := model.NewReactable(kind)
	if !ok {
		return nil, fmt.Errorf("unknown target kind %q", kind)
	}
	return m, nil
}

func (c *counterTx) TargetCounts(target model.TargetRef) (model.ReactionCounts, error) {
	m, err := reactable(target.Kind)
	if err != nil {
		return model.ReactionCounts{}, err
	}
	if err := c.tx.Where("id = ?", target.ID).First(m).Error; err != nil {
		return model.ReactionCounts{}, translate(err)
	}
	return m.Counts(), nil
}

func (c *counterTx) LockTarget(target model.TargetRef) (model.ReactionCounts, error) {
	m, err := reactable(target.Kind)
	if err != nil {
		return model.ReactionCounts{}, err
	}
	err = c.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", target.ID).
		First(m).Error
	if err != nil {
		return model.ReactionCounts{}, translate(err)
	}
	return m.Counts(), nil
}

func (c *counterTx) LockTargetUnscoped(target model.TargetRef) (model.ReactionCounts, bool, error) {
	m, err := reactable(target.Kind)
	if err != nil {
		return model.ReactionCounts{}, false, err
	}
	err = c.tx.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", target.ID).
		First(m).Error
	if err != nil {
		return model.ReactionCounts{}, false, translate(err)
	}
	return m.Counts(), m.Deleted(), nil
}

func (c *counterTx) AddReactionCounts(target model.TargetRef, delta model.CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	m, err := reactable(target.Kind)
	if err != nil {
		return err
	}
	res := c.tx.Model(m).
		Where("id = ?", target.ID).
		UpdateColumns(map[string]interface{}{
			"like_count":    gorm.Expr("like_count + ?", delta.Like),
			"dislike_count": gorm.Expr("dislike_count + ?", delta.Dislike),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *counterTx) SetReactionCounts(target model.TargetRef, counts model.ReactionCounts) error {
	m, err := reactable(target.Kind)
	if err != nil {
		return err
	}
	// 覆盖值可能与原值相同，MySQL 下 RowsAffected 为 0，不据此判断存在性
	return c.tx.Model(m).Unscoped().
		Where("id = ?", target.ID).
		UpdateColumns(map[string]interface{}{
			"like_count":    counts.Like,
			"dislike_count": counts.Dislike,
		}).Error
}

func (c *counterTx) CountReactions(target model.TargetRef) (model.ReactionCounts, error) {
	var rows []struct {
		Emoji model.Emoji
		N     int64
	}
	err := c.tx.Model(&model.Reaction{}).
		Select("emoji, count(*) AS n").
		Where("target_kind = ? AND target_id = ?", target.Kind, target.ID).
		Group("emoji").
		Scan(&rows).Error
	if err != nil {
		return model.ReactionCounts{}, err
	}
	var counts model.ReactionCounts
	for _, r := range rows {
		switch r.Emoji {
		case model.EmojiLike:
			counts.Like = r.N
		case model.EmojiDislike:
			counts.Dislike = r.N
		}
	}
	return counts, nil
}

func (c *counterTx) LockUsers(ids ...uint) error {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		var u model.User
		err := c.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", id).
			First(&u).Error
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (c *counterTx) AddFriendCount(delta int64, ids ...uint) error {
	if delta == 0 || len(ids) == 0 {
		return nil
	}
	res := c.tx.Model(&model.User{}).
		Where("id IN ?", ids).
		UpdateColumn("friend_count", gorm.Expr("friend_count + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return ErrNotFound
	}
	return nil
}

func (c *counterTx) FriendCount(userID uint) (int64, error) {
	var u model.User
	if err := c.tx.Select("id", "friend_count").Where("id = ?", userID).First(&u).Error; err != nil {
		return 0, translate(err)
	}
	return u.FriendCount, nil
}

func (c *counterTx) CountFriends(userID uint) (int64, error) {
	var n int64
	err := c.tx.Model(&model.Friendship{}).
		Where("status = ? AND (user_low = ? OR user_high = ?)", model.FriendAccepted, userID, userID).
		Count(&n).Error
	return n, err
}

func (c *counterTx) SetFriendCount(userID uint, n int64) error {
	return c.tx.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("friend_count", n).Error
}

// CounterRepository 修复操作使用的独立事务入口
type CounterRepository struct {
	orm *gorm.DB
}

func NewCounterRepository(orm *gorm.DB) *CounterRepository {
	return &CounterRepository{orm: orm}
}

// Atomic 在单个事务内执行 fn，fn 返回错误则整体回滚
func (r *CounterRepository) Atomic(ctx context.Context, fn func(CounterTx) error) error {
	return r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&counterTx{tx: tx})
	})
}

// CountReactionsReferencing 统计引用该目标的互动记录数（不要求目标存在）
func (r *CounterRepository) CountReactionsReferencing(ctx context.Context, target model.TargetRef) (int64, error) {
	var n int64
	err := r.orm.WithContext(ctx).
		Model(&model.Reaction{}).
		Where("target_kind = ? AND target_id = ?", target.Kind, target.ID).
		Count(&n).Error
	return n, err
}

// TargetIDs 返回某类目标的全部ID：目标表（含软删除）与互动记录中引用到的ID的并集，升序
func (r *CounterRepository) TargetIDs(ctx context.Context, kind model.TargetKind) ([]uint, error) {
	m, err := reactable(kind)
	if err != nil {
		return nil, err
	}
	var owned []uint
	if err := r.orm.WithContext(ctx).Unscoped().Model(m).Pluck("id", &owned).Error; err != nil {
		return nil, err
	}
	var referenced []uint
	err = r.orm.WithContext(ctx).
		Model(&model.Reaction{}).
		Where("target_kind = ?", kind).
		Distinct().
		Pluck("target_id", &referenced).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{}, len(owned)+len(referenced))
	ids := make([]uint, 0, len(owned)+len(referenced))
	for _, list := range [][]uint{owned, referenced} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// UserIDs 返回全部用户ID，升序
func (r *CounterRepository) UserIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.orm.WithContext(ctx).Model(&model.User{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}
