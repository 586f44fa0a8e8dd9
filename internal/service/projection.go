package service

import (
	"storyhub/internal/model"
)

// RelationStatus 候选用户相对查看者的关系状态
type RelationStatus string

const (
	RelationNone     RelationStatus = "none"
	RelationFriends  RelationStatus = "friends"
	RelationOutgoing RelationStatus = "request_sent"     // 查看者发出、待对方处理
	RelationIncoming RelationStatus = "request_received" // 对方发出、待查看者处理
	RelationDeclined RelationStatus = "declined"
)

// FriendshipView 单个候选用户的投影结果
type FriendshipView struct {
	UserID uint           `json:"user_id"`
	Status RelationStatus `json:"friend_status"`
	// DeclinedBy 仅在 declined 时有值，为拒绝方
	DeclinedBy uint `json:"declined_by,omitempty"`
}

// ProjectFriendships 计算每个候选用户与 viewer 的关系状态
// 先按对方ID建索引，再单次遍历候选，时间复杂度 O(候选数 + 关系数)
func ProjectFriendships(viewer uint, rels []model.Friendship, candidates []uint) []FriendshipView {
	byOther := make(map[uint]*model.Friendship, len(rels))
	for i := range rels {
		rel := &rels[i]
		if !rel.Involves(viewer) {
			continue
		}
		byOther[rel.Other(viewer)] = rel
	}

	views := make([]FriendshipView, len(candidates))
	for i, id := range candidates {
		views[i] = FriendshipView{UserID: id, Status: RelationNone}
		rel, ok := byOther[id]
		if !ok || id == viewer {
			continue
		}
		switch rel.Status {
		case model.FriendAccepted:
			views[i].Status = RelationFriends
		case model.FriendPending:
			if rel.FromID == viewer {
				views[i].Status = RelationOutgoing
			} else {
				views[i].Status = RelationIncoming
			}
		case model.FriendDeclined:
			views[i].Status = RelationDeclined
			views[i].DeclinedBy = rel.ToID
		}
	}
	return views
}
