package model

import (
	"time"

	"gorm.io/gorm"
)

// FriendStatus 好友关系状态
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendDeclined FriendStatus = "declined"
)

// Friendship 好友关系
// 每个无序用户对 {A,B} 最多一条记录：UserLow/UserHigh 为排序后的用户对，联合唯一
// FromID/ToID 保留原始申请方/接收方角色
// Version 用于乐观并发控制，每次变更 +1
// 不使用软删除：软删除的行仍会占用唯一索引
type Friendship struct {
	ID          uint         `gorm:"primaryKey"`
	UserLow     uint         `gorm:"not null;uniqueIndex:uk_friendship_pair,priority:1;comment:较小的用户ID"`
	UserHigh    uint         `gorm:"not null;uniqueIndex:uk_friendship_pair,priority:2;comment:较大的用户ID"`
	FromID      uint         `gorm:"not null;index;comment:申请方ID"`
	ToID        uint         `gorm:"not null;index;comment:接收方ID"`
	Status      FriendStatus `gorm:"type:varchar(16);not null;default:'pending';index;comment:关系状态"`
	Version     uint64       `gorm:"not null;default:1;comment:版本号"`
	RespondedAt *time.Time   `gorm:"comment:处理时间"`
	CreatedAt   time.Time    `gorm:"comment:创建时间"`
	UpdatedAt   time.Time    `gorm:"comment:更新时间"`
}

func (Friendship) TableName() string { return "friendship" }

// BeforeSave 根据 FromID/ToID 归一化无序用户对
func (f *Friendship) BeforeSave(tx *gorm.DB) error {
	if f.FromID != 0 && f.ToID != 0 {
		f.UserLow, f.UserHigh = PairKey(f.FromID, f.ToID)
	}
	return nil
}

// PairKey 返回排序后的用户对
func PairKey(a, b uint) (low, high uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// Involves 是否涉及该用户
func (f *Friendship) Involves(userID uint) bool {
	return f.FromID == userID || f.ToID == userID
}

// Other 返回关系中的另一方
func (f *Friendship) Other(userID uint) uint {
	if f.FromID == userID {
		return f.ToID
	}
	return f.FromID
}
