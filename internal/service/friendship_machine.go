package service

import (
	"time"

	"storyhub/internal/model"
)

// FriendAction 好友关系操作
type FriendAction string

const (
	ActionSend    FriendAction = "send"
	ActionCancel  FriendAction = "cancel"
	ActionAccept  FriendAction = "accept"
	ActionDecline FriendAction = "decline"
	ActionRemove  FriendAction = "remove"
)

// StoreOp 决策对应的存储操作
type StoreOp int

const (
	OpCreate StoreOp = iota + 1
	OpUpdate
	OpDelete
)

// FriendshipDecision 状态机的计算结果
// Next 为写入后的记录（删除时为删除前的记录），FriendDelta 同时作用于双方的好友数
type FriendshipDecision struct {
	Op          StoreOp
	Next        *model.Friendship
	FriendDelta int64
}

// DecideFriendship 根据当前记录、操作人与操作计算下一状态
// current 为 nil 表示两人之间没有记录；other 是关系中的另一方
func DecideFriendship(current *model.Friendship, actor, other uint, action FriendAction, now time.Time) (FriendshipDecision, error) {
	if actor == 0 || other == 0 {
		return FriendshipDecision{}, validationf("user id is required")
	}
	if actor == other {
		return FriendshipDecision{}, validationf("cannot befriend yourself")
	}
	if current != nil && !(current.Involves(actor) && current.Involves(other)) {
		return FriendshipDecision{}, validationf("friendship %d does not belong to users %d and %d", current.ID, actor, other)
	}

	switch action {
	case ActionSend:
		return decideSend(current, actor, other)
	case ActionCancel:
		if current == nil || current.Status != model.FriendPending {
			return FriendshipDecision{}, notFoundf("no pending friend request")
		}
		if current.FromID != actor {
			return FriendshipDecision{}, forbiddenf("only the requester can cancel a friend request")
		}
		return FriendshipDecision{Op: OpDelete, Next: current}, nil
	case ActionAccept, ActionDecline:
		if current == nil || current.Status != model.FriendPending {
			return FriendshipDecision{}, notFoundf("no pending friend request")
		}
		if current.ToID != actor {
			return FriendshipDecision{}, forbiddenf("only the recipient can respond to a friend request")
		}
		next := *current
		next.RespondedAt = &now
		next.Status = model.FriendDeclined
		var delta int64
		if action == ActionAccept {
			next.Status = model.FriendAccepted
			delta = 1
		}
		return FriendshipDecision{Op: OpUpdate, Next: &next, FriendDelta: delta}, nil
	case ActionRemove:
		if current == nil || current.Status != model.FriendAccepted {
			return FriendshipDecision{}, notFoundf("not friends")
		}
		return FriendshipDecision{Op: OpDelete, Next: current, FriendDelta: -1}, nil
	}
	return FriendshipDecision{}, validationf("unknown action %q", action)
}

func decideSend(current *model.Friendship, actor, other uint) (FriendshipDecision, error) {
	if current == nil {
		return FriendshipDecision{
			Op: OpCreate,
			Next: &model.Friendship{
				FromID: actor,
				ToID:   other,
				Status: model.FriendPending,
			},
		}, nil
	}

	switch current.Status {
	case model.FriendPending:
		if current.FromID == actor {
			return FriendshipDecision{}, conflictf("friend request already sent")
		}
		return FriendshipDecision{}, conflictf("friend request already requested by them")
	case model.FriendAccepted:
		return FriendshipDecision{}, conflictf("already friends")
	case model.FriendDeclined:
		// 覆盖被拒绝的记录，申请方改为新的发起人
		next := *current
		next.FromID = actor
		next.ToID = other
		next.Status = model.FriendPending
		next.RespondedAt = nil
		return FriendshipDecision{Op: OpUpdate, Next: &next}, nil
	}
	return FriendshipDecision{}, consistencyf("friendship %d has unknown status %q", current.ID, current.Status)
}
