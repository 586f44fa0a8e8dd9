package handler

import (
	"time"

	"storyhub/pkg/db"
	"storyhub/pkg/jwt"
	"storyhub/pkg/logger"
	"storyhub/pkg/metrics"
	"storyhub/pkg/response"

	"github.com/gin-gonic/gin"
)

// Routes 路由依赖
type Routes struct {
	JWT       *jwt.JWTService
	Users     *UserHandler
	Friends   *FriendHandler
	Reactions *ReactionHandler
	Admin     *AdminHandler
	WebSocket gin.HandlerFunc // 可为空
}

// NewRouter 创建Gin路由
func NewRouter(r Routes) *gin.Engine {
	router := gin.New()

	// 使用中间件
	router.Use(logger.RequestIDMiddleware())   // 请求ID
	router.Use(logger.RequestLogger())         // 请求日志
	router.Use(logger.ErrorLoggerMiddleware()) // panic 恢复
	router.Use(metrics.Middleware())           // 请求指标

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := db.HealthCheck(); err != nil {
			status = "db-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users")
		{
			// 公开接口（无需认证）
			users.POST("/register", r.Users.Register)
			users.POST("/login", r.Users.Login)

			// 需要认证的接口
			authUsers := users.Group("")
			authUsers.Use(r.JWT.AuthMiddleware())
			{
				authUsers.GET("", r.Friends.SearchUsers)
				authUsers.GET("/me", r.Users.GetProfile)
			}
		}

		// 好友路由（需要认证）
		friends := v1.Group("/friends")
		friends.Use(r.JWT.AuthMiddleware())
		{
			friends.GET("", r.Friends.ListFriends)
			friends.DELETE("/:user_id", r.Friends.RemoveFriend)
			friends.GET("/:user_id/status", r.Friends.GetRelation)
			friends.POST("/requests", r.Friends.SendRequest)
			friends.GET("/requests/incoming", r.Friends.ListIncoming)
			friends.GET("/requests/outgoing", r.Friends.ListOutgoing)
			friends.PUT("/requests/:user_id", r.Friends.RespondRequest)
			friends.DELETE("/requests/:user_id", r.Friends.CancelRequest)
		}

		// 互动路由（需要认证）
		reactions := v1.Group("/reactions")
		reactions.Use(r.JWT.AuthMiddleware())
		{
			reactions.POST("", r.Reactions.Toggle)
			reactions.GET("/:target_type/:target_id", r.Reactions.Get)
		}

		// 管理路由（X-Admin-Token）
		admin := v1.Group("/admin")
		admin.Use(r.Admin.RequireToken())
		{
			admin.POST("/reconcile/users/:user_id", r.Admin.ReconcileUser)
			admin.POST("/reconcile/:target_type/:target_id", r.Admin.ReconcileTarget)
		}
	}

	// WebSocket路由
	if r.WebSocket != nil {
		router.GET("/ws", r.WebSocket)
	}

	return router
}
