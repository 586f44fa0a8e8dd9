package handler

import (
	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/internal/service"
	"storyhub/pkg/jwt"
	"storyhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// FriendHandler 好友关系接口
type FriendHandler struct {
	service *service.FriendService
}

func NewFriendHandler(s *service.FriendService) *FriendHandler {
	return &FriendHandler{service: s}
}

// FriendUser 列表中的用户
type FriendUser struct {
	*response.UserInfo
	FriendStatus service.RelationStatus `json:"friend_status"`
	DeclinedBy   uint                   `json:"declined_by,omitempty"`
	Online       bool                   `json:"online"`
}

func toPageResponse(page *service.FriendPage) *response.PageResponse {
	users := make([]FriendUser, len(page.Entries))
	for i := range page.Entries {
		e := &page.Entries[i]
		users[i] = FriendUser{
			UserInfo:     response.PublicUserInfo(&e.User),
			FriendStatus: e.Relation.Status,
			DeclinedBy:   e.Relation.DeclinedBy,
			Online:       e.Online,
		}
	}
	return &response.PageResponse{Users: users, TotalPages: page.TotalPages, Count: page.Count}
}

// SendRequest 发送好友申请 POST /friends/requests {to}
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var r struct {
		To uint `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := h.service.SendFriendRequest(c.Request.Context(), jwt.GetUserID(c), r.To)
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "好友申请已发送", response.FilterFriendship(f))
}

// RespondRequest 处理好友申请 PUT /friends/requests/:user_id {status}
func (h *FriendHandler) RespondRequest(c *gin.Context) {
	requester, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	var r struct {
		Status string `json:"status" binding:"required,oneof=accepted declined"`
	}
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := h.service.RespondToFriendRequest(c.Request.Context(), jwt.GetUserID(c), requester, model.FriendStatus(r.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "好友申请已处理", response.FilterFriendship(f))
}

// CancelRequest 撤回好友申请 DELETE /friends/requests/:user_id
func (h *FriendHandler) CancelRequest(c *gin.Context) {
	target, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	if err := h.service.CancelFriendRequest(c.Request.Context(), jwt.GetUserID(c), target); err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "好友申请已撤回", nil)
}

// RemoveFriend 解除好友 DELETE /friends/:user_id
func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	target, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	if err := h.service.RemoveFriend(c.Request.Context(), jwt.GetUserID(c), target); err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已解除好友关系", nil)
}

// GetRelation 查询与某用户的关系 GET /friends/:user_id/status
func (h *FriendHandler) GetRelation(c *gin.Context) {
	other, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	view, err := h.service.Relation(c.Request.Context(), jwt.GetUserID(c), other)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, view)
}

// ListFriends 好友列表 GET /friends
func (h *FriendHandler) ListFriends(c *gin.Context) {
	h.list(c, repository.ListAccepted)
}

// ListIncoming 收到的申请 GET /friends/requests/incoming
func (h *FriendHandler) ListIncoming(c *gin.Context) {
	h.list(c, repository.ListIncoming)
}

// ListOutgoing 发出的申请 GET /friends/requests/outgoing
func (h *FriendHandler) ListOutgoing(c *gin.Context) {
	h.list(c, repository.ListOutgoing)
}

func (h *FriendHandler) list(c *gin.Context, kind repository.FriendListKind) {
	filter := service.FriendFilter{Kind: kind, Name: c.Query("name")}
	page, err := h.service.ListFriends(c.Request.Context(), jwt.GetUserID(c), filter, queryPage(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, toPageResponse(page))
}

// SearchUsers 搜索用户并标注好友状态 GET /users?name=
func (h *FriendHandler) SearchUsers(c *gin.Context) {
	page, err := h.service.SearchUsers(c.Request.Context(), jwt.GetUserID(c), c.Query("name"), queryPage(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, toPageResponse(page))
}
