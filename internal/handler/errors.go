package handler

import (
	"errors"
	"strconv"

	"storyhub/internal/service"
	"storyhub/pkg/logger"
	"storyhub/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError 将服务层错误映射为业务错误码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrConsistency):
		logger.Error("数据一致性错误",
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		response.ErrorWithDetails(c, 500, "数据不一致", err)
	default:
		logger.Error("请求处理失败",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.ErrorWithDetails(c, 500, "服务器内部错误", err)
	}
}

// paramID 解析路径中的ID参数
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// queryPage 解析分页参数 ?page=&limit=
func queryPage(c *gin.Context) service.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return service.Page{Page: page, Limit: limit}
}
