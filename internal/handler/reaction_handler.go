package handler

import (
	"crypto/subtle"

	"storyhub/internal/model"
	"storyhub/internal/service"
	"storyhub/pkg/jwt"
	"storyhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReactionHandler 点赞/点踩接口
type ReactionHandler struct {
	service *service.ReactionService
}

func NewReactionHandler(s *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{service: s}
}

// Toggle 提交互动 POST /reactions {target_type, target_id, emoji}
func (h *ReactionHandler) Toggle(c *gin.Context) {
	var r struct {
		TargetType string `json:"target_type" binding:"required"`
		TargetID   uint   `json:"target_id" binding:"required"`
		Emoji      string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	target, ok := model.ParseTargetRef(r.TargetType, r.TargetID)
	if !ok {
		response.BadRequest(c, "invalid target_type")
		return
	}
	result, err := h.service.ToggleReaction(c.Request.Context(), jwt.GetUserID(c), target, model.Emoji(r.Emoji))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// Get 读取计数 GET /reactions/:target_type/:target_id
func (h *ReactionHandler) Get(c *gin.Context) {
	target, ok := parseTarget(c)
	if !ok {
		return
	}
	summary, err := h.service.GetReactionCounts(c.Request.Context(), jwt.GetUserID(c), target)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, summary)
}

func parseTarget(c *gin.Context) (model.TargetRef, bool) {
	kindParam := c.Param("target_type")
	if !model.TargetKind(kindParam).Valid() {
		response.BadRequest(c, "invalid target_type")
		return model.TargetRef{}, false
	}
	id, ok := paramID(c, "target_id")
	if !ok {
		return model.TargetRef{}, false
	}
	return model.ParseTargetRef(kindParam, id)
}

// AdminHandler 计数修复接口
type AdminHandler struct {
	reactions *service.ReactionService
	counters  *service.CounterAggregator
	token     string
}

func NewAdminHandler(reactions *service.ReactionService, counters *service.CounterAggregator, token string) *AdminHandler {
	return &AdminHandler{reactions: reactions, counters: counters, token: token}
}

// RequireToken 校验 X-Admin-Token；未配置令牌时管理接口不可用
func (h *AdminHandler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			response.Forbidden(c, "admin token required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ReconcileTarget POST /admin/reconcile/:target_type/:target_id
func (h *AdminHandler) ReconcileTarget(c *gin.Context) {
	target, ok := parseTarget(c)
	if !ok {
		return
	}
	result, err := h.reactions.ReconcileCounters(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{
		"target":    result.Target,
		"before":    result.Before,
		"reactions": result.After,
		"drifted":   result.Drifted(),
	})
}

// ReconcileUser POST /admin/reconcile/users/:user_id
func (h *AdminHandler) ReconcileUser(c *gin.Context) {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	result, err := h.counters.ReconcileFriendCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
