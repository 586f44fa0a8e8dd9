package repository

import (
	"context"
	"errors"

	"storyhub/internal/model"

	"gorm.io/gorm"
)

// FriendshipTx 事务内的好友关系存取
// 读取不加锁，写入通过 Version 做比较并交换；未命中返回 ErrStale
type FriendshipTx interface {
	CounterTx

	// FindByPair 按无序用户对查找，不存在时返回 nil, nil
	FindByPair(a, b uint) (*model.Friendship, error)
	// Insert 新建关系；同一用户对已存在时返回 ErrStale
	Insert(f *model.Friendship) error
	// CompareAndSwap 以 f.Version 为期望版本更新，成功后 f.Version 自增
	CompareAndSwap(f *model.Friendship) error
	// CompareAndDelete 以 f.Version 为期望版本删除
	CompareAndDelete(f *model.Friendship) error
	// UserExists 用户是否存在
	UserExists(id uint) (bool, error)
}

type friendshipTx struct {
	counterTx
}

func (t *friendshipTx) FindByPair(a, b uint) (*model.Friendship, error) {
	low, high := model.PairKey(a, b)
	var f model.Friendship
	err := t.tx.Where("user_low = ? AND user_high = ?", low, high).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (t *friendshipTx) Insert(f *model.Friendship) error {
	if f.Version == 0 {
		f.Version = 1
	}
	return translate(t.tx.Create(f).Error)
}

func (t *friendshipTx) CompareAndSwap(f *model.Friendship) error {
	res := t.tx.Model(&model.Friendship{}).
		Where("id = ? AND version = ?", f.ID, f.Version).
		UpdateColumns(map[string]interface{}{
			"from_id":      f.FromID,
			"to_id":        f.ToID,
			"status":       f.Status,
			"responded_at": f.RespondedAt,
			"version":      f.Version + 1,
			"updated_at":   t.tx.NowFunc(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	f.Version++
	return nil
}

func (t *friendshipTx) CompareAndDelete(f *model.Friendship) error {
	res := t.tx.Where("id = ? AND version = ?", f.ID, f.Version).Delete(&model.Friendship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

func (t *friendshipTx) UserExists(id uint) (bool, error) {
	var n int64
	if err := t.tx.Model(&model.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// FriendListKind 好友列表类型
type FriendListKind string

const (
	ListAccepted FriendListKind = "accepted" // 已是好友
	ListIncoming FriendListKind = "incoming" // 收到的待处理申请
	ListOutgoing FriendListKind = "outgoing" // 发出的待处理申请
)

type FriendshipRepository struct {
	orm *gorm.DB
}

func NewFriendshipRepository(orm *gorm.DB) *FriendshipRepository {
	return &FriendshipRepository{orm: orm}
}

// Atomic 在单个事务内执行 fn，fn 返回错误或 ctx 在提交前取消则整体回滚
func (r *FriendshipRepository) Atomic(ctx context.Context, fn func(FriendshipTx) error) error {
	return r.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&friendshipTx{counterTx{tx: tx}})
	})
}

// ListForUser 列出用户某一类关系记录
func (r *FriendshipRepository) ListForUser(ctx context.Context, userID uint, kind FriendListKind) ([]model.Friendship, error) {
	q := r.orm.WithContext(ctx).Model(&model.Friendship{})
	switch kind {
	case ListAccepted:
		q = q.Where("status = ? AND (from_id = ? OR to_id = ?)", model.FriendAccepted, userID, userID)
	case ListIncoming:
		q = q.Where("status = ? AND to_id = ?", model.FriendPending, userID)
	case ListOutgoing:
		q = q.Where("status = ? AND from_id = ?", model.FriendPending, userID)
	default:
		return nil, errors.New("unknown friend list kind")
	}
	var list []model.Friendship
	if err := q.Order("updated_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListBetween 列出 viewer 与候选用户之间的全部关系记录
func (r *FriendshipRepository) ListBetween(ctx context.Context, viewer uint, candidates []uint) ([]model.Friendship, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var list []model.Friendship
	err := r.orm.WithContext(ctx).
		Where("(from_id = ? AND to_id IN ?) OR (to_id = ? AND from_id IN ?)", viewer, candidates, viewer, candidates).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Get 按用户对读取（事务外，仅用于展示关系状态）
func (r *FriendshipRepository) Get(ctx context.Context, a, b uint) (*model.Friendship, error) {
	low, high := model.PairKey(a, b)
	var f model.Friendship
	if err := r.orm.WithContext(ctx).Where("user_low = ? AND user_high = ?", low, high).First(&f).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}
