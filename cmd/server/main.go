package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyhub/config"
	"storyhub/internal/handler"
	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/internal/service"
	dbPkg "storyhub/pkg/db"
	"storyhub/pkg/events"
	"storyhub/pkg/jwt"
	"storyhub/pkg/logger"
	"storyhub/pkg/redis"
	"storyhub/pkg/response"
	"storyhub/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== StoryHub 启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.Int("database_replicas", len(cfg.Database.Replicas)),
		zap.String("counter_strategy", cfg.Consistency.CounterStrategy),
		zap.Int("max_attempts", cfg.Consistency.MaxAttempts),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := dbPkg.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(model.AllModels()...); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 Redis（可选，失败时降级为无缓存）
	if cfg.Redis.Enabled {
		if err := redis.InitRedis(cfg.Redis); err != nil {
			log.Warn("Redis不可用，计数缓存与离线通知已关闭", zap.Error(err))
		} else {
			defer redis.Close()
		}
	}

	// 3.3 事件通道：WebSocket 推送 + 可选的 NATS
	wsManager := websocket.NewManager()
	sinks := events.Fanout{wsManager}
	var nc *nats.Conn
	if cfg.Events.Enabled {
		conn, err := events.Connect(cfg.Events.NatsURL)
		if err != nil {
			log.Warn("NATS连接失败，事件仅推送到WebSocket", zap.String("url", cfg.Events.NatsURL), zap.Error(err))
		} else {
			nc = conn
			sinks = append(sinks, events.NewNatsSink(nc, cfg.Events.Subject))
		}
	}

	// 3.4 初始化业务服务
	orm := dbPkg.GetDB()
	jwtSvc := jwt.NewJWTService(cfg.JWT)
	userRepo := repository.NewUserRepository(orm)
	friendshipRepo := repository.NewFriendshipRepository(orm)
	reactionRepo := repository.NewReactionRepository(orm)
	counters := service.NewCounterAggregator(repository.NewCounterRepository(orm), cfg.Consistency)

	userSvc := service.NewUserService(userRepo, jwtSvc)
	friendSvc := service.NewFriendService(friendshipRepo, userRepo, counters, sinks, cfg.Consistency.MaxAttempts)
	reactionSvc := service.NewReactionService(reactionRepo, counters, redis.NewCounterCache(cfg.Cache.CounterTTL), sinks, cfg.Consistency.MaxAttempts)

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := handler.NewRouter(handler.Routes{
		JWT:       jwtSvc,
		Users:     handler.NewUserHandler(userSvc),
		Friends:   handler.NewFriendHandler(friendSvc),
		Reactions: handler.NewReactionHandler(reactionSvc),
		Admin:     handler.NewAdminHandler(reactionSvc, counters, cfg.Admin.Token),
		WebSocket: websocket.NewHandler(wsManager, jwtSvc, cfg.WebSocket).Serve,
	})

	// 6. 设置基础路由
	setupBasicRoutes(router, cfg)

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	// 设置关闭超时
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 关闭HTTP服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	// 先把已发布的事件刷出去
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Error("NATS关闭失败", zap.Error(err))
		}
	}

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine, cfg *config.Config) {
	// Redis 状态
	// 完整url为：http://localhost:8080/health/redis
	router.GET("/health/redis", func(c *gin.Context) {
		status := "ok"
		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			status = "redis-down"
		}
		response.Success(c, gin.H{
			"status":  status,
			"enabled": cfg.Redis.Enabled,
		})
	})

	// 根路径
	// 完整url为：http://localhost:8080/
	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "欢迎使用StoryHub",
			"version": "2.0.0",
		})
	})

	// 配置信息路由（系统状态监控）
	// 完整url为：http://localhost:8080/config
	router.GET("/config", func(c *gin.Context) {
		response.Success(c, gin.H{
			"server": gin.H{
				"port": cfg.Server.Port,
			},
			"database": gin.H{
				"host":     cfg.Database.Host,
				"port":     cfg.Database.Port,
				"database": cfg.Database.Database,
				"driver":   cfg.Database.Driver,
				"replicas": len(cfg.Database.Replicas),
			},
			"consistency": gin.H{
				"counterStrategy":      cfg.Consistency.CounterStrategy,
				"maxAttempts":          cfg.Consistency.MaxAttempts,
				"reconcileConcurrency": cfg.Consistency.ReconcileConcurrency,
			},
			"events": gin.H{
				"enabled": cfg.Events.Enabled,
				"subject": cfg.Events.Subject,
			},
			"log": gin.H{
				"level":    cfg.Log.Level,
				"filename": cfg.Log.Filename,
			},
		})
	})
}
