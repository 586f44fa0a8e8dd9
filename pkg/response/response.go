package response

import (
	"net/http"

	"storyhub/internal/model"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// HTTP 状态码固定为 200，业务结果由 Code 表示
type Response struct {
	Code    int         `json:"code"`            // 状态码：0表示成功，其他表示错误
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据
	Error   string      `json:"error,omitempty"` // 错误详情（仅在开发环境显示）
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	c.Set("biz_code", code)
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithDetails 带错误详情的错误响应
func ErrorWithDetails(c *gin.Context, code int, message string, err error) {
	c.Set("biz_code", code)
	response := Response{
		Code:    code,
		Message: message,
	}

	// 在开发环境下显示错误详情
	if gin.Mode() == gin.DebugMode && err != nil {
		response.Error = err.Error()
	}

	c.JSON(http.StatusOK, response)
}

// BadRequest 400错误
func BadRequest(c *gin.Context, message string) {
	Error(c, 400, message)
}

// Unauthorized 401错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, 401, message)
}

// Forbidden 403错误
func Forbidden(c *gin.Context, message string) {
	Error(c, 403, message)
}

// NotFound 404错误
func NotFound(c *gin.Context, message string) {
	Error(c, 404, message)
}

// Conflict 409错误（状态不允许或并发冲突）
func Conflict(c *gin.Context, message string) {
	Error(c, 409, message)
}

// InternalError 500错误
func InternalError(c *gin.Context, message string) {
	Error(c, 500, message)
}

// UserInfo 用户信息（隐藏敏感字段）
type UserInfo struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Nickname    string `json:"nickname"`
	Avatar      string `json:"avatar"`
	FriendCount int64  `json:"friend_count"`
	CreatedAt   string `json:"created_at"`
}

// FilterUserInfo 过滤用户信息，隐藏敏感字段
func FilterUserInfo(user *model.User) *UserInfo {
	if user == nil {
		return nil
	}

	return &UserInfo{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Nickname:    user.Nickname,
		Avatar:      user.Avatar,
		FriendCount: user.FriendCount,
		CreatedAt:   user.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// PublicUserInfo 他人可见的用户信息（不含邮箱）
func PublicUserInfo(user *model.User) *UserInfo {
	info := FilterUserInfo(user)
	if info != nil {
		info.Email = ""
	}
	return info
}

// LoginResponse 登录/注册响应
type LoginResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// FriendshipInfo 好友关系
type FriendshipInfo struct {
	ID          uint   `json:"id"`
	From        uint   `json:"from"`
	To          uint   `json:"to"`
	Status      string `json:"status"`
	Version     uint64 `json:"version"`
	RespondedAt string `json:"responded_at,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// FilterFriendship 转换好友关系
func FilterFriendship(f *model.Friendship) *FriendshipInfo {
	if f == nil {
		return nil
	}
	info := &FriendshipInfo{
		ID:        f.ID,
		From:      f.FromID,
		To:        f.ToID,
		Status:    string(f.Status),
		Version:   f.Version,
		UpdatedAt: f.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	if f.RespondedAt != nil {
		info.RespondedAt = f.RespondedAt.Format("2006-01-02 15:04:05")
	}
	return info
}

// PageResponse 分页响应
type PageResponse struct {
	Users      interface{} `json:"users"`
	TotalPages int         `json:"totalPages"`
	Count      int64       `json:"count"`
}
